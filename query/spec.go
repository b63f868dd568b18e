package query

type (
	// Spec is the public query surface: ordered filter phases, the columns to
	// materialize, an optional sort, and optional post stages on records.
	Spec struct {
		Filter []any       `json:"filter,omitempty"`
		Fields []FieldSpec `json:"fields"`
		Sort   *SortSpec   `json:"sort,omitempty"`
		Post   []PostSpec  `json:"post,omitempty"`
	}

	FieldSpec struct {
		Path string `json:"path"`
		// Source marks a JSON-blob column: the blob is parsed once per row,
		// its flattened keys merged into the record, the raw field omitted.
		Source bool `json:"source,omitempty"`
	}

	SortSpec struct {
		Path       string `json:"path"`
		Descending bool   `json:"descending,omitempty"`
	}

	// PostSpec is a user-supplied record stage. Script names a registered
	// function; programmatic callers may set Fn directly instead.
	PostSpec struct {
		Type   string   `json:"type"` // filter | transform
		Script string   `json:"script,omitempty"`
		Args   []string `json:"args,omitempty"`

		Fn func(map[string]any) (map[string]any, bool, error) `json:"-"`
	}
)
