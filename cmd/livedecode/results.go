package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ieee0824/livedecode-go/internal/logging"
	"github.com/ieee0824/livedecode-go/store"
)

type resultList []store.Result

func (r resultList) text(s styles) string {
	var b strings.Builder
	for _, res := range r {
		fmt.Fprintf(&b, "%s %s %s\n",
			s.Dim.Render(res.CreatedAt.Local().Format("2006-01-02 15:04:05")),
			s.Title.Render(res.ID),
			s.Text.Render(res.Text))
	}
	return b.String()
}

func newResultsCmd(g *globalOptions) *cobra.Command {
	var (
		storeDir string
		session  string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "results [id]",
		Short: "Show stored utterance results",
		Example: `  livedecode results --store data
  livedecode results --store data --session 0c3e... -o json
  livedecode results --store data -q '.[] | select(.frames > 100) | .text'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if storeDir == "" {
				return fmt.Errorf("--store is required")
			}
			p, err := newPrinter(g, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			st, err := store.Open(store.Options{Dir: storeDir, ReadOnly: true, Logger: logging.Component(g.log, "store")})
			if err != nil {
				return err
			}
			defer st.Close()

			if len(args) == 1 {
				r, err := st.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return p.print(resultList{r})
			}
			var list resultList
			for r, err := range st.List(cmd.Context(), session) {
				if err != nil {
					return err
				}
				list = append(list, r)
				if limit > 0 && len(list) == limit {
					break
				}
			}
			return p.print(list)
		},
	}
	f := cmd.Flags()
	f.StringVar(&storeDir, "store", "", "result store directory")
	f.StringVar(&session, "session", "", "only results of this session")
	f.IntVar(&limit, "limit", 0, "at most this many results (0 for all)")
	return cmd
}
