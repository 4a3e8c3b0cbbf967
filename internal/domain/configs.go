package domain

// Typed JSON blobs stored on Endpoint and DataSource rows.

// SchemaConfig holds the per-format serialization options of an endpoint.
// Only the block matching OutputFormat is read.
type SchemaConfig struct {
	RSS  RSSOptions  `json:"rss"  toml:"rss"`
	XML  XMLOptions  `json:"xml"  toml:"xml"`
	CSV  CSVOptions  `json:"csv"  toml:"csv"`
	JSON JSONOptions `json:"json" toml:"json"`
}

// RSS merge strategies.
const (
	MergeSequential  = "sequential"
	MergeInterleaved = "interleaved"
)

// RSSChannel describes the <channel> element of a feed.
type RSSChannel struct {
	Title       string `json:"title,omitempty"       toml:"title"`
	Link        string `json:"link,omitempty"        toml:"link"`
	Description string `json:"description,omitempty" toml:"description"`
	Language    string `json:"language,omitempty"    toml:"language"`
	TTL         int    `json:"ttl,omitempty"         toml:"ttl"`
}

// RSSFieldMapping maps RSS item fields to record field paths. Empty fields
// fall back to the built-in candidate paths.
type RSSFieldMapping struct {
	Title       string `json:"title,omitempty"       toml:"title"`
	Link        string `json:"link,omitempty"        toml:"link"`
	Description string `json:"description,omitempty" toml:"description"`
	PubDate     string `json:"pub_date,omitempty"    toml:"pub_date"`
	GUID        string `json:"guid,omitempty"        toml:"guid"`
	Author      string `json:"author,omitempty"      toml:"author"`
	Category    string `json:"category,omitempty"    toml:"category"`
}

// RSSOptions configures the RSS generator.
type RSSOptions struct {
	Channel           RSSChannel                 `json:"channel"                        toml:"channel"`
	MergeStrategy     string                     `json:"merge_strategy,omitempty"       toml:"merge_strategy"`
	MaxItemsPerSource int                        `json:"max_items_per_source,omitempty" toml:"max_items_per_source"`
	MaxItems          int                        `json:"max_items,omitempty"            toml:"max_items"`
	FieldMapping      RSSFieldMapping            `json:"field_mapping"                  toml:"field_mapping"`
	SourceMappings    map[string]RSSFieldMapping `json:"source_mappings,omitempty"      toml:"source_mappings"`
}

// XML and JSON combine modes.
const (
	CombineSeparate = "separate"
	CombineMerged   = "merged"
	CombineArray    = "array"
)

// XMLOptions configures the XML generator.
type XMLOptions struct {
	RootElement     string            `json:"root_element,omitempty"     toml:"root_element"`
	ItemElement     string            `json:"item_element,omitempty"     toml:"item_element"`
	CombineMode     string            `json:"combine_mode,omitempty"     toml:"combine_mode"`
	AttributePrefix string            `json:"attribute_prefix,omitempty" toml:"attribute_prefix"`
	TextKey         string            `json:"text_key,omitempty"         toml:"text_key"`
	CDATAFields     []string          `json:"cdata_fields,omitempty"     toml:"cdata_fields"`
	Namespaces      map[string]string `json:"namespaces,omitempty"       toml:"namespaces"`
	OmitDeclaration bool              `json:"omit_declaration,omitempty" toml:"omit_declaration"`
	Indent          bool              `json:"indent,omitempty"           toml:"indent"`
}

// CSVOptions configures the CSV generator.
type CSVOptions struct {
	Delimiter     string   `json:"delimiter,omitempty"      toml:"delimiter"`
	Columns       []string `json:"columns,omitempty"        toml:"columns"`
	Headers       []string `json:"headers,omitempty"        toml:"headers"`
	OmitHeader    bool     `json:"omit_header,omitempty"    toml:"omit_header"`
	QuoteAll      bool     `json:"quote_all,omitempty"      toml:"quote_all"`
	IncludeSource bool     `json:"include_source,omitempty" toml:"include_source"`
	CRLF          bool     `json:"crlf,omitempty"           toml:"crlf"`
}

// JSONOptions configures the JSON generator. RootKey "-" disables the
// envelope when no metadata is requested.
type JSONOptions struct {
	CombineMode     string `json:"combine_mode,omitempty"     toml:"combine_mode"`
	RootKey         string `json:"root_key,omitempty"         toml:"root_key"`
	IncludeMetadata bool   `json:"include_metadata,omitempty" toml:"include_metadata"`
	Pretty          bool   `json:"pretty,omitempty"           toml:"pretty"`
}

// TransformConfig is the ordered pipeline applied to each source's records.
type TransformConfig struct {
	Steps []TransformStep `json:"steps,omitempty" toml:"steps"`
}

// TransformStep is one pipeline stage. Which fields apply depends on Type.
type TransformStep struct {
	Type     string            `json:"type"               toml:"type"`
	Field    string            `json:"field,omitempty"    toml:"field"`
	Operator string            `json:"operator,omitempty" toml:"operator"`
	Value    any               `json:"value,omitempty"    toml:"value"`
	Mappings map[string]string `json:"mappings,omitempty" toml:"mappings"`
	Keep     bool              `json:"keep,omitempty"     toml:"keep"`
	Fields   []string          `json:"fields,omitempty"   toml:"fields"`
	Order    string            `json:"order,omitempty"    toml:"order"`
	Count    int               `json:"count,omitempty"    toml:"count"`
	Offset   int               `json:"offset,omitempty"   toml:"offset"`
	Format   string            `json:"format,omitempty"   toml:"format"`
	Layout   string            `json:"layout,omitempty"   toml:"layout"`
}

// Auth types.
const (
	AuthBearer = "bearer"
	AuthAPIKey = "api_key"
	AuthBasic  = "basic"
)

// AuthConfig gates an endpoint. Tokens and APIKeys hold sha256 hex digests,
// Users maps usernames to bcrypt hashes.
type AuthConfig struct {
	Required   bool              `json:"required"              toml:"required"`
	Type       string            `json:"type,omitempty"        toml:"type"`
	Header     string            `json:"header,omitempty"      toml:"header"`
	QueryParam string            `json:"query_param,omitempty" toml:"query_param"`
	Tokens     []string          `json:"tokens,omitempty"      toml:"tokens"`
	JWTSecret  string            `json:"jwt_secret,omitempty"  toml:"jwt_secret"`
	APIKeys    []string          `json:"api_keys,omitempty"    toml:"api_keys"`
	Users      map[string]string `json:"users,omitempty"       toml:"users"`
}

// CacheConfig enables response caching. TTLSeconds <= 0 uses the server
// default.
type CacheConfig struct {
	Enabled    bool `json:"enabled"               toml:"enabled"`
	TTLSeconds int  `json:"ttl_seconds,omitempty" toml:"ttl_seconds"`
}

// RateLimitConfig caps requests per client per minute.
type RateLimitConfig struct {
	Enabled           bool `json:"enabled"                       toml:"enabled"`
	RequestsPerMinute int  `json:"requests_per_minute,omitempty" toml:"requests_per_minute"`
}

// SourceConfig describes where and how a DataSource fetches. Which fields
// apply depends on the source type.
type SourceConfig struct {
	// api
	URL          string            `json:"url,omitempty"           toml:"url"`
	Method       string            `json:"method,omitempty"        toml:"method"`
	Headers      map[string]string `json:"headers,omitempty"       toml:"headers"`
	Query        map[string]string `json:"query,omitempty"         toml:"query"`
	ForwardQuery bool              `json:"forward_query,omitempty" toml:"forward_query"`
	TimeoutMs    int               `json:"timeout_ms,omitempty"    toml:"timeout_ms"`

	// database
	Table   string            `json:"table,omitempty"    toml:"table"`
	Columns []string          `json:"columns,omitempty"  toml:"columns"`
	Where   map[string]string `json:"where,omitempty"    toml:"where"`
	OrderBy string            `json:"order_by,omitempty" toml:"order_by"`
	SQL     string            `json:"sql,omitempty"      toml:"sql"`

	// file
	Path   string `json:"path,omitempty"   toml:"path"`
	Bucket string `json:"bucket,omitempty" toml:"bucket"`
	Object string `json:"object,omitempty" toml:"object"`

	// webhook
	Secret string `json:"secret,omitempty" toml:"secret"`

	// shared
	Format    string `json:"format,omitempty"    toml:"format"`
	Delimiter string `json:"delimiter,omitempty" toml:"delimiter"`
	DataPath  string `json:"data_path,omitempty" toml:"data_path"`
	Limit     int    `json:"limit,omitempty"     toml:"limit"`
}
