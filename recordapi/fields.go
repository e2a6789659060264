package recordapi

import (
	"strings"

	"github.com/tarik02/apiproxy/api"
)

// RecordFromFields builds a record from fields normalized by validate.RecordSchema.
func RecordFromFields(fields map[string]any) api.Record {
	var rec api.Record
	if v, ok := fields["fecha"].(string); ok {
		rec.Fecha = v
	}
	if v, ok := fields["calorias"].(float64); ok {
		rec.Calorias = v
	}
	if v, ok := fields["peso"].(float64); ok {
		rec.Peso = v
	}
	if v, ok := fields["edad"].(int64); ok {
		rec.Edad = int(v)
	}
	if v, ok := fields["altura"].(float64); ok {
		rec.Altura = v
	}
	if v, ok := fields["actividad"].(string); ok {
		rec.Actividad = strings.ToLower(v)
	}
	return rec
}
