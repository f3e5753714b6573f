// Package schema validates the parameters passed to registered actions.
//
// A Schema maps parameter names to types. Types are written as short strings
// in action manifests and parsed with ParseType:
//
//	string   number   int   bool   object   any
//	[string]              list of strings
//	int?                  optional int
//
// Parameters reach actions in their JSON-canonical form, so numbers are
// float64 and an int is any whole float64.
//
//	s, err := schema.ParseTypeMap(map[string]string{
//	    "url":     "string",
//	    "retries": "int?",
//	    "tags":    "[string]",
//	})
//	if err := schema.Validate(s, params); err != nil {
//	    for _, fe := range schema.ValidationErrors(err) { ... }
//	}
package schema
