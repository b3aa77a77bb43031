package domain

// SchemaKind tags the variant of a Schema node.
type SchemaKind string

const (
	// SchemaLeaf is a scalar constraint set (type, bounds, pattern, enum).
	SchemaLeaf SchemaKind = "leaf"
	// SchemaObject validates named fields against nested schemas.
	SchemaObject SchemaKind = "object"
	// SchemaArray validates every element against a single nested schema.
	SchemaArray SchemaKind = "array"
	// SchemaUnion accepts the first candidate schema that validates.
	SchemaUnion SchemaKind = "union"
	// SchemaRef delegates to another registered contract by name.
	SchemaRef SchemaKind = "ref"
	// SchemaPolicy evaluates a Rego rule that emits violations directly.
	SchemaPolicy SchemaKind = "policy"
)

// LeafType is the scalar type a leaf schema requires.
type LeafType string

const (
	LeafString  LeafType = "string"
	LeafNumber  LeafType = "number"
	LeafInteger LeafType = "integer"
	LeafBool    LeafType = "bool"
	LeafAny     LeafType = "any"
)

// UnknownFieldPolicy controls how object schemas treat fields they do not declare.
type UnknownFieldPolicy string

const (
	// UnknownStrip silently removes undeclared fields from the accepted value.
	UnknownStrip UnknownFieldPolicy = "strip"
	// UnknownReject reports a violation for every undeclared field.
	UnknownReject UnknownFieldPolicy = "reject"
	// UnknownAllow passes undeclared fields through untouched.
	UnknownAllow UnknownFieldPolicy = "allow"
)

// Schema is the tagged-variant description of a contract's shape. Exactly one
// group of fields is meaningful for a given Kind; the rest stay zero. Schemas
// are treated as immutable once a contract is registered.
type Schema struct {
	Kind SchemaKind

	// Leaf constraints.
	Type      LeafType
	Min       *float64
	Max       *float64
	MinLength *int
	MaxLength *int
	Pattern   string
	Enum      []any
	Format    string

	// Object constraints.
	Fields   map[string]*Schema
	Required []string
	Unknown  UnknownFieldPolicy

	// Array constraints.
	Element  *Schema
	MinItems *int
	MaxItems *int

	// Union candidates, tried in order.
	Options []*Schema

	// Ref target: the name of another registered contract.
	Ref string

	// Policy: Rego module source and the rule path that yields violations.
	PolicyModule     string
	PolicyEntrypoint string
}

// Contract is a named, versioned validation contract. The schema is immutable
// after registration; usage metadata lives in the store, not here.
type Contract struct {
	Name        string
	Version     int
	Description string
	Schema      *Schema
}

// ContractInfo is the store's read-only view of a registered contract,
// including the metadata derived at registration time.
type ContractInfo struct {
	Name         string
	Version      int
	Hash         string
	Complexity   int
	Dependencies []string
	UsageCount   int64
	LastUsed     int64 // unix nanoseconds; zero until first lookup
}

// Violation describes one structured validation failure. Violations are data,
// never errors: they cross the public boundary inside an ExecutionResult.
type Violation struct {
	Path     []string `json:"path"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Expected string   `json:"expected,omitempty"`
	Received string   `json:"received,omitempty"`
}

// Violation codes emitted by schema evaluation.
const (
	CodeRequired         = "required"
	CodeInvalidType      = "invalid_type"
	CodeTooSmall         = "too_small"
	CodeTooBig           = "too_big"
	CodeTooShort         = "too_short"
	CodeTooLong          = "too_long"
	CodePatternMismatch  = "pattern_mismatch"
	CodeInvalidEnumValue = "invalid_enum_value"
	CodeUnknownField     = "unknown_field"
	CodeUnionMismatch    = "union_mismatch"
	CodeTooFewItems      = "too_few_items"
	CodeTooManyItems     = "too_many_items"
	CodeMaxDepth         = "max_depth_exceeded"
	CodeMaxStringLength  = "max_string_length_exceeded"
	CodePolicyViolation  = "policy_violation"
)
