package masking

// Masker is the interface for code-based maskers that need structural awareness
// beyond regex pattern matching. Code-based maskers can parse the content and
// apply context-sensitive masking (e.g., mask dotenv secret values but not keys).
type Masker interface {
	// Name returns the unique identifier for this masker.
	// Must match the key in config.GetBuiltinConfig().CodeMaskers.
	Name() string

	// AppliesTo performs a lightweight check on whether this masker
	// should process the data. Should be fast (string contains, not parsing).
	AppliesTo(data string) bool

	// Mask applies masking logic and returns the masked result.
	// Must return the original data on parse/processing errors.
	Mask(data string) string
}
