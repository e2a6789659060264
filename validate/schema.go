package validate

import "sync"

var RecordSchema = &Schema{
	Name: "record",
	Fields: []Field{
		{Name: "fecha", Kind: String, Rule: "datetime=2006-01-02"},
		{Name: "calorias", Kind: Number, Required: true, Rule: "gte=500,lte=5000"},
		{Name: "peso", Kind: Number, Rule: "gte=20,lte=400"},
		{Name: "edad", Kind: Integer, Required: true, Rule: "gte=1,lte=120"},
		{Name: "altura", Kind: Number, Required: true, Rule: "gte=50,lte=250"},
		{Name: "actividad", Kind: String, Required: true, Rule: "oneof=sedentaria baja moderada alta muy_alta"},
	},
}

var (
	registry   = map[string]*Schema{RecordSchema.Name: RecordSchema}
	registryMu sync.RWMutex
)

func Register(s *Schema) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[s.Name] = s
}

func Lookup(name string) (*Schema, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[name]
	return s, ok
}
