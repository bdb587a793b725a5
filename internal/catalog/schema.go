package catalog

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/bietkhonhungvandi212/heapdb/internal/storage/file"
	"github.com/bietkhonhungvandi212/heapdb/internal/storage/tuple"
	util "github.com/bietkhonhungvandi212/heapdb/internal/utils"
)

/**
* Schema file format:
*
*   tables:
*     - name: users
*       primary_key: id
*       fields:
*         - {name: id, type: int}
*         - {name: email, type: string}
*
* Each table is stored in <dataDir>/<name>.dat.
**/
type SchemaFile struct {
	Tables []TableSchema `yaml:"tables"`
}

type TableSchema struct {
	Name       string        `yaml:"name"`
	PrimaryKey string        `yaml:"primary_key"`
	Fields     []FieldSchema `yaml:"fields"`
}

type FieldSchema struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

func parseType(s string) (tuple.Type, error) {
	switch strings.ToLower(s) {
	case "int", "integer":
		return tuple.IntType, nil
	case "string", "varchar", "text":
		return tuple.StringType, nil
	default:
		return 0, errors.Errorf("unknown field type %q", s)
	}
}

// Desc builds the tuple descriptor of a table schema
func (ts TableSchema) Desc() (*tuple.TupleDesc, error) {
	types := make([]tuple.Type, len(ts.Fields))
	names := make([]string, len(ts.Fields))
	for i, f := range ts.Fields {
		t, err := parseType(f.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "table %s field %s", ts.Name, f.Name)
		}
		types[i] = t
		names[i] = f.Name
	}
	return tuple.NewTupleDesc(types, names)
}

// OpenTable opens (or creates) the heap file at path and registers it
func (c *Catalog) OpenTable(path, name string, desc *tuple.TupleDesc, pkeyField string, syncWrites bool) (*file.HeapFile, error) {
	hf, err := file.NewHeapFile(path, desc, syncWrites)
	if err != nil {
		return nil, err
	}
	if err := c.AddTable(hf, name, pkeyField); err != nil {
		hf.Close()
		return nil, err
	}
	return hf, nil
}

// LoadSchema registers every table listed in a YAML schema file
func (c *Catalog) LoadSchema(schemaPath, dataDir string, syncWrites bool) ([]util.TableID, error) {
	raw, err := os.ReadFile(schemaPath)
	if err != nil {
		return nil, util.Storage("load schema", errors.Wrapf(err, "read %s", schemaPath))
	}
	var sf SchemaFile
	if err := yaml.Unmarshal(raw, &sf); err != nil {
		return nil, util.InvalidArgument("load schema", errors.Wrapf(err, "parse %s", schemaPath))
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, util.Storage("load schema", errors.Wrapf(err, "create %s", dataDir))
	}

	ids := make([]util.TableID, 0, len(sf.Tables))
	for _, ts := range sf.Tables {
		desc, err := ts.Desc()
		if err != nil {
			return nil, util.InvalidArgument("load schema", err)
		}
		hf, err := c.OpenTable(filepath.Join(dataDir, ts.Name+".dat"), ts.Name, desc, ts.PrimaryKey, syncWrites)
		if err != nil {
			return nil, err
		}
		ids = append(ids, hf.ID())
	}
	return ids, nil
}
