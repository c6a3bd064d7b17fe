package httpserver

import (
    "fmt"
    "strings"

    "github.com/xeipuuv/gojsonschema"
)

var (
    registerGameSchema = mustSchema(`{
  "type": "object",
  "properties": {
    "metadata_hash": {"type": "string", "maxLength": 256},
    "base_price_usd": {"type": "integer", "minimum": 0}
  },
  "required": ["metadata_hash", "base_price_usd"],
  "additionalProperties": false
}`)
    purchaseSchema = mustSchema(`{
  "type": "object",
  "properties": {
    "amount_paid": {"type": "string", "pattern": "^[0-9]{1,78}$"}
  },
  "required": ["amount_paid"],
  "additionalProperties": false
}`)
)

func mustSchema(src string) *gojsonschema.Schema {
    s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
    if err != nil { panic(err) }
    return s
}

// validateBody checks doc against schema and joins the first few violations.
func validateBody(schema *gojsonschema.Schema, doc []byte) error {
    res, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
    if err != nil {
        return err
    }
    if !res.Valid() {
        var msgs []string
        for i, e := range res.Errors() {
            if i >= 5 {
                break
            }
            msgs = append(msgs, e.String())
        }
        return fmt.Errorf("%s", strings.Join(msgs, "; "))
    }
    return nil
}
