// Package seed reads provisioning seed files.
//
// A seed file is YAML (or JSON, which YAML accepts) shaped as
// {records: [{accessIdentifier, externalApplicationId, qosProfileMap}]}.
// Records written with the field names of the legacy MongoDB provisioning
// script (asIpv4Addr, scsAsId, qosMap) are accepted too.
//
// Only types are checked here. Missing and null fields load as empty values
// so the registry classifies them. A record with the wrong types is rejected
// on its own as malformed and the rest of the file still loads.
package seed

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/camaraproject/QualityOnDemand-PI3/pkg/provisioning"
)

//go:embed seed.schema.json
var schemaJSON string

const schemaURL = "https://qod.schemas.local/seed.schema.json"

var (
	documentSchema *jsonschema.Schema
	recordSchema   *jsonschema.Schema
)

func init() {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("seed schema load failed: %v", err))
	}
	documentSchema = c.MustCompile(schemaURL)
	recordSchema = c.MustCompile(schemaURL + "#/$defs/record")
}

// legacyFields maps the MongoDB document keys onto record keys.
var legacyFields = map[string]string{
	"asIpv4Addr": "accessIdentifier",
	"scsAsId":    "externalApplicationId",
	"qosMap":     "qosProfileMap",
}

// ErrInvalidDocument is returned when the file itself is malformed.
var ErrInvalidDocument = errors.New("invalid seed document")

// Rejection is a record dropped for its shape. Kind is always
// provisioning.KindMalformedRecord.
type Rejection struct {
	Index int                    `json:"index"`
	Kind  provisioning.ErrorKind `json:"kind"`
	Error string                 `json:"error"`
}

// File is a parsed seed file.
type File struct {
	Records []provisioning.Record
	// Indexes maps Records back to their position in the file.
	Indexes  []int
	Rejected []Rejection
}

// Load reads and parses the seed file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse parses seed file content.
func Parse(data []byte) (*File, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidDocument)
	}

	doc, err := toJSONValue(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	if err := documentSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	items := doc.(map[string]any)["records"].([]any)
	f := &File{}
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if ok {
			renameLegacy(obj)
		}
		if err := recordSchema.Validate(item); err != nil {
			f.Rejected = append(f.Rejected, Rejection{
				Index: i,
				Kind:  provisioning.Kind(provisioning.ErrMalformedRecord),
				Error: flatten(err),
			})
			continue
		}
		f.Records = append(f.Records, toRecord(obj))
		f.Indexes = append(f.Indexes, i)
	}
	return f, nil
}

// Total is the number of records in the file, accepted or not.
func (f *File) Total() int { return len(f.Records) + len(f.Rejected) }

// toJSONValue round-trips v through JSON so the validator sees the value
// types it expects, with numbers as json.Number.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func renameLegacy(obj map[string]any) {
	for legacy, field := range legacyFields {
		v, ok := obj[legacy]
		if !ok {
			continue
		}
		if _, taken := obj[field]; !taken {
			obj[field] = v
		}
		delete(obj, legacy)
	}
}

func toRecord(obj map[string]any) provisioning.Record {
	profiles := make(map[string]string)
	if m, ok := obj["qosProfileMap"].(map[string]any); ok {
		for k, v := range m {
			profiles[k] = stringField(v)
		}
	}
	return provisioning.NewRecord(stringField(obj["accessIdentifier"]), stringField(obj["externalApplicationId"]), profiles)
}

// stringField reads a schema-checked string-or-null value.
func stringField(v any) string {
	s, _ := v.(string)
	return s
}

// flatten turns a validation error tree into one line.
func flatten(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	var parts []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			parts = append(parts, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(parts, "; ")
}
