package fst

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// SymbolTable maps integer labels to strings and back.
type SymbolTable struct {
	names map[Label]string
	ids   map[string]Label
}

// NewSymbolTable returns an empty table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{names: make(map[Label]string), ids: make(map[string]Label)}
}

// ReadSymbols reads the OpenFst text format, one "symbol id" pair per line.
func ReadSymbols(r io.Reader) (*SymbolTable, error) {
	st := NewSymbolTable()
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: expected 2 fields, got %d", lineNo, len(fields))
		}
		id, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: bad id %q: %w", lineNo, fields[1], err)
		}
		st.Add(fields[0], id)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return st, nil
}

// Add registers symbol with id.
func (st *SymbolTable) Add(symbol string, id Label) {
	st.names[id] = symbol
	st.ids[symbol] = id
}

// Find returns the symbol for id, or "" if id is not in the table.
func (st *SymbolTable) Find(id Label) string {
	return st.names[id]
}

// ID returns the label of symbol.
func (st *SymbolTable) ID(symbol string) (Label, bool) {
	id, ok := st.ids[symbol]
	return id, ok
}

func (st *SymbolTable) NumSymbols() int { return len(st.names) }
