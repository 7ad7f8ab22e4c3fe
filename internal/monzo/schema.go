package monzo

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const accountsSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["accounts"],
  "properties": {
    "accounts": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "created"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "created": {"type": "string", "minLength": 1}
        }
      }
    }
  }
}`

const transactionsSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["transactions"],
  "properties": {
    "transactions": {
      "type": "array",
      "maxItems": 100,
      "items": {
        "type": "object",
        "required": ["id", "created", "amount"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "created": {"type": "string", "minLength": 1},
          "amount": {"type": "integer"},
          "description": {"type": ["string", "null"]},
          "merchant": {
            "type": ["object", "string", "null"],
            "properties": {
              "name": {"type": ["string", "null"]},
              "category": {"type": ["string", "null"]},
              "suggested_tags": {"type": ["string", "array", "null"], "items": {"type": "string"}},
              "address": {"type": ["object", "null"]},
              "metadata": {"type": ["object", "null"]}
            }
          }
        }
      }
    }
  }
}`

var (
	accountsValidator     = sync.OnceValues(func() (*jsonschema.Schema, error) { return compileSchema("accounts.json", accountsSchema) })
	transactionsValidator = sync.OnceValues(func() (*jsonschema.Schema, error) { return compileSchema("transactions.json", transactionsSchema) })
)

func compileSchema(name, source string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("add %s: %w", name, err)
	}
	return compiler.Compile(name)
}

func validatePayload(load func() (*jsonschema.Schema, error), payload []byte) error {
	schema, err := load()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return err
	}
	return schema.Validate(inst)
}

func validateAccounts(payload []byte) error {
	return validatePayload(accountsValidator, payload)
}

func validateTransactions(payload []byte) error {
	return validatePayload(transactionsValidator, payload)
}
