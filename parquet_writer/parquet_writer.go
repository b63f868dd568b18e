package parquet_writer

import (
	"encoding/json"
	"fmt"
	"strings"
)

type (
	// SchemaAccumulator builds a parquet JSON schema from flat JSON rows.
	// Columns are either UTF8 byte arrays or doubles, matching the JSON value
	// domain the query core decodes.
	SchemaAccumulator struct {
		schema Schema
	}

	Schema struct {
		TagStructs SchemaTag `json:"-,omitempty"`
		Fields     []*Schema `json:",omitempty"`
	}

	JSONSchema struct {
		Tag    string        `json:",omitempty"`
		Fields []*JSONSchema `json:",omitempty"`
	}

	SchemaTag struct {
		Name           string         `json:"name,omitempty"`
		Type           string         `json:"type,omitempty"`
		ConvertedType  string         `json:"convertedtype,omitempty"`
		RepetitionType RepetitionType `json:"repetitiontype,omitempty"`
		Encoding       string         `json:"encoding,omitempty"`
	}

	RepetitionType string
)

var (
	Optional RepetitionType = "OPTIONAL"
	Required RepetitionType = "REQUIRED"
)

func NewSchemaAccumulator() SchemaAccumulator {
	return SchemaAccumulator{
		schema: Schema{
			TagStructs: SchemaTag{
				Name:           "parquet_go_root",
				RepetitionType: Required,
			},
		},
	}
}

func (sa *SchemaAccumulator) WriteRow(row map[string]any) {
	for key, val := range row {
		if sa.fieldExists(key) {
			continue
		}
		sa.schema.Fields = append(sa.schema.Fields, columnSchema(key, val))
	}
}

func columnSchema(key string, item any) *Schema {
	schema := &Schema{
		TagStructs: SchemaTag{
			Name:           key,
			RepetitionType: Optional,
		},
	}
	if _, isStr := item.(string); isStr {
		schema.TagStructs.Type = "BYTE_ARRAY"
		schema.TagStructs.ConvertedType = "UTF8"
		schema.TagStructs.Encoding = "PLAIN"
	} else {
		// anything numeric lands as a double, like JSON numbers do
		schema.TagStructs.Type = "DOUBLE"
	}
	return schema
}

func (sa *SchemaAccumulator) fieldExists(fieldName string) (exists bool) {
	for _, field := range sa.schema.Fields {
		if field.TagStructs.Name == fieldName {
			return true
		}
	}
	return
}

func (sa *SchemaAccumulator) ColumnNames() []string {
	var cols []string
	for _, field := range sa.schema.Fields {
		cols = append(cols, field.TagStructs.Name)
	}
	return cols
}

func (s *Schema) toJSONSchema() *JSONSchema {
	var tagArr []string
	if s.TagStructs.Type != "" {
		tagArr = append(tagArr, "type="+s.TagStructs.Type)
	}
	if s.TagStructs.ConvertedType != "" {
		tagArr = append(tagArr, "convertedtype="+s.TagStructs.ConvertedType)
	}
	if s.TagStructs.Encoding != "" {
		tagArr = append(tagArr, "encoding="+s.TagStructs.Encoding)
	}
	if s.TagStructs.Name != "" {
		tagArr = append(tagArr, "name="+s.TagStructs.Name)
	}
	if string(s.TagStructs.RepetitionType) != "" {
		tagArr = append(tagArr, "repetitiontype="+string(s.TagStructs.RepetitionType))
	}
	var fields []*JSONSchema
	for _, field := range s.Fields {
		fields = append(fields, field.toJSONSchema())
	}
	return &JSONSchema{
		Tag:    strings.Join(tagArr, ", "),
		Fields: fields,
	}
}

// SchemaString returns the JSON formatted schema string the writer consumes.
func (sa *SchemaAccumulator) SchemaString() (string, error) {
	var fields []*JSONSchema
	for _, field := range sa.schema.Fields {
		fields = append(fields, field.toJSONSchema())
	}
	pjs := JSONSchema{
		Tag:    "name=parquet_go_root, repetitiontype=REQUIRED",
		Fields: fields,
	}

	b, err := json.Marshal(pjs)
	if err != nil {
		return "", fmt.Errorf("error in json.Marshal: %w", err)
	}
	return string(b), nil
}
