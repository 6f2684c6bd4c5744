package embeddings

// modelInfo is what is known about a model without calling it.
type modelInfo struct {
	dimension int
	local     bool
}

var models = map[string]modelInfo{
	"text-embedding-3-small":                 {dimension: 1536},
	"text-embedding-3-large":                 {dimension: 3072},
	"text-embedding-ada-002":                 {dimension: 1536},
	"BAAI/bge-small-en-v1.5":                 {dimension: 384, local: true},
	"BAAI/bge-small-en":                      {dimension: 384, local: true},
	"BAAI/bge-base-en-v1.5":                  {dimension: 768, local: true},
	"BAAI/bge-base-en":                       {dimension: 768, local: true},
	"sentence-transformers/all-MiniLM-L6-v2": {dimension: 384, local: true},
}

// KnownDimension returns the published output size of a model.
func KnownDimension(model string) (int, bool) {
	m, ok := models[model]
	return m.dimension, ok
}

// LocalModel reports whether model can run in-process.
func LocalModel(model string) bool {
	return models[model].local
}
