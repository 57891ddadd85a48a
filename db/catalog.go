package db

import (
	"bufio"
	"errors"
	"fmt"
	"heapdb/buffer"
	"heapdb/catalog"
	"heapdb/catalog/db_types"
	"heapdb/heap"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrTableNotFound = errors.New("table not found")
	ErrBadSchemaLine = errors.New("malformed schema line")
)

var _ buffer.TableResolver = &Catalog{}

type tableInfo struct {
	file *heap.HeapFile
	name string
	pkey string
}

// Catalog keeps track of the tables of a database by id and by name. It is what the buffer pool resolves table ids
// with, so a registered table must stay registered while its pages are cached.
type Catalog struct {
	mu         sync.RWMutex
	tables     map[int32]*tableInfo
	tableNames map[string]int32
}

func NewCatalog() *Catalog {
	return &Catalog{
		tables:     map[int32]*tableInfo{},
		tableNames: map[string]int32{},
	}
}

// AddTable registers file under name. A table already registered with the same name or the same id is replaced.
func (c *Catalog) AddTable(file *heap.HeapFile, name, pkey string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.tables[file.GetID()]; ok {
		delete(c.tableNames, old.name)
	}
	if oldID, ok := c.tableNames[name]; ok {
		delete(c.tables, oldID)
	}

	c.tables[file.GetID()] = &tableInfo{file: file, name: name, pkey: pkey}
	c.tableNames[name] = file.GetID()
}

// AddAnonymousTable registers file under a random name and returns it.
func (c *Catalog) AddAnonymousTable(file *heap.HeapFile) string {
	name := uuid.NewString()
	c.AddTable(file, name, "")
	return name
}

func (c *Catalog) GetTableID(name string) (int32, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.tableNames[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrTableNotFound, name)
	}
	return id, nil
}

func (c *Catalog) get(tableID int32) (*tableInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info, ok := c.tables[tableID]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrTableNotFound, tableID)
	}
	return info, nil
}

func (c *Catalog) GetSchema(tableID int32) (catalog.Schema, error) {
	info, err := c.get(tableID)
	if err != nil {
		return nil, err
	}
	return info.file.GetSchema(), nil
}

func (c *Catalog) GetHeapFile(tableID int32) (*heap.HeapFile, error) {
	info, err := c.get(tableID)
	if err != nil {
		return nil, err
	}
	return info.file, nil
}

func (c *Catalog) GetDbFile(tableID int32) (buffer.DbFile, error) {
	return c.GetHeapFile(tableID)
}

func (c *Catalog) GetPrimaryKey(tableID int32) (string, error) {
	info, err := c.get(tableID)
	if err != nil {
		return "", err
	}
	return info.pkey, nil
}

func (c *Catalog) GetTableName(tableID int32) (string, error) {
	info, err := c.get(tableID)
	if err != nil {
		return "", err
	}
	return info.name, nil
}

// TableIDs returns the ids of every registered table in ascending order.
func (c *Catalog) TableIDs() []int32 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]int32, 0, len(c.tables))
	for id := range c.tables {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Clear forgets every table. Files are not closed.
func (c *Catalog) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tables = map[int32]*tableInfo{}
	c.tableNames = map[string]int32{}
}

// TableDef is one table of a schema file.
type TableDef struct {
	Name   string
	Schema catalog.Schema
	PKey   string
}

// ParseSchema reads table definitions, one per line, in the form
//
//	name (field type [pk], field type, ...)
//
// where type is int or string. Blank lines and lines starting with # are skipped.
func ParseSchema(r io.Reader) ([]TableDef, error) {
	defs := make([]TableDef, 0)
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		def, err := parseSchemaLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		defs = append(defs, def)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return defs, nil
}

func parseSchemaLine(line string) (TableDef, error) {
	open, closing := strings.Index(line, "("), strings.LastIndex(line, ")")
	if open <= 0 || closing < open {
		return TableDef{}, fmt.Errorf("%w: %q", ErrBadSchemaLine, line)
	}

	name := strings.TrimSpace(line[:open])
	if name == "" {
		return TableDef{}, fmt.Errorf("%w: missing table name in %q", ErrBadSchemaLine, line)
	}

	cols := make([]catalog.Column, 0)
	pkey := ""
	for _, field := range strings.Split(line[open+1:closing], ",") {
		parts := strings.Fields(field)
		if len(parts) < 2 || len(parts) > 3 {
			return TableDef{}, fmt.Errorf("%w: field %q of table %s", ErrBadSchemaLine, strings.TrimSpace(field), name)
		}

		typ, err := db_types.ParseType(parts[1])
		if err != nil {
			return TableDef{}, fmt.Errorf("field %s of table %s: %w", parts[0], name, err)
		}

		if len(parts) == 3 {
			if parts[2] != "pk" {
				return TableDef{}, fmt.Errorf("%w: unknown annotation %q", ErrBadSchemaLine, parts[2])
			}
			pkey = parts[0]
		}
		cols = append(cols, catalog.Column{Name: parts[0], Type: typ})
	}

	return TableDef{Name: name, Schema: catalog.NewSchema(cols), PKey: pkey}, nil
}
