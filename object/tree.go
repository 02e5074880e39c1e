package object

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

type FileMode string

const (
	ModeRegularFile FileMode = "100644"
	ModeExecutable  FileMode = "100755"
	ModeDirectory   FileMode = "40000"
)

// TreeEntry is one "<mode> <name>\0<raw id>" record of a tree.
type TreeEntry struct {
	Mode FileMode
	Name string
	ID   string
}

func NewBlob(content []byte) *Object {
	return &Object{Type: TypeBlob, Data: content}
}

// NewTree encodes entries in the order given. Entries are not sorted, callers
// that need git's canonical ordering must sort them first.
func NewTree(entries []TreeEntry) (*Object, error) {
	var buf bytes.Buffer
	for _, e := range entries {
		raw, err := hex.DecodeString(e.ID)
		if err != nil || len(raw) != IDSize {
			return nil, fmt.Errorf("tree entry %q: invalid object id %q", e.Name, e.ID)
		}
		if e.Name == "" || bytes.IndexByte([]byte(e.Name), 0) != -1 {
			return nil, fmt.Errorf("tree entry: invalid name %q", e.Name)
		}
		mode := e.Mode
		if mode == "" {
			mode = ModeRegularFile
		}
		buf.WriteString(string(mode))
		buf.WriteByte(' ')
		buf.WriteString(e.Name)
		buf.WriteByte(0)
		buf.Write(raw)
	}
	return &Object{Type: TypeTree, Data: buf.Bytes()}, nil
}

func ParseTree(data []byte) ([]TreeEntry, error) {
	var entries []TreeEntry
	for len(data) > 0 {
		sp := bytes.IndexByte(data, ' ')
		if sp == -1 {
			return nil, fmt.Errorf("invalid tree: missing mode separator")
		}
		nul := bytes.IndexByte(data[sp+1:], 0)
		if nul == -1 {
			return nil, fmt.Errorf("invalid tree: missing name terminator")
		}
		nameEnd := sp + 1 + nul
		if len(data) < nameEnd+1+IDSize {
			return nil, fmt.Errorf("invalid tree: truncated object id")
		}
		entries = append(entries, TreeEntry{
			Mode: FileMode(data[:sp]),
			Name: string(data[sp+1 : nameEnd]),
			ID:   hex.EncodeToString(data[nameEnd+1 : nameEnd+1+IDSize]),
		})
		data = data[nameEnd+1+IDSize:]
	}
	return entries, nil
}
