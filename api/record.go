package api

type Record struct {
	ID        int     `json:"id"`
	Fecha     string  `json:"fecha,omitempty"`
	Calorias  float64 `json:"calorias"`
	Peso      float64 `json:"peso,omitempty"`
	Edad      int     `json:"edad"`
	Altura    float64 `json:"altura"`
	Actividad string  `json:"actividad"`
}

type Created struct {
	ID int `json:"id"`
}

type Slide struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image"`
}

type Health struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
