package gateway

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tarik02/apiproxy/carousel"
	"github.com/tarik02/apiproxy/logging"
	"github.com/tarik02/apiproxy/upstream"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

type galleryView struct {
	Operation string
	Error     string
	RetryURL  string

	Slide    any
	Src      template.URL
	Index    int
	Position int
	Total    int
	PrevURL  string
	NextURL  string
	Fallback bool
}

func galleryURL(op string, i int) string {
	q := url.Values{"op": {op}, "i": {strconv.Itoa(i)}}
	return "/gallery?" + q.Encode()
}

func (s *Server) gallery(c *gin.Context) {
	op := c.DefaultQuery("op", upstream.OpCharts)
	i, _ := strconv.Atoi(c.Query("i"))
	log := logging.FromContext(c.Request.Context(), zap.String("operation", op))

	view := galleryView{Operation: op, RetryURL: galleryURL(op, i)}

	env := s.Proxy().Call(c.Request.Context(), op, upstream.Call{Method: http.MethodGet})
	if !env.Success {
		view.Error = fmt.Sprintf("No se pudieron cargar las gráficas: %s", env.ErrorMessage())
		c.HTML(statusFor(env), "gallery.html", view)
		return
	}

	slides, err := carousel.ParseSlides(env.Data)
	if err == nil && len(slides) == 0 {
		err = carousel.ErrNoSlides
	}
	if err != nil {
		log.Warn("gallery payload rejected", zap.Error(err))
		view.Error = "No se pudieron cargar las gráficas: " + err.Error()
		c.HTML(http.StatusBadGateway, "gallery.html", view)
		return
	}

	car, _ := carousel.New(slides)
	car.Select(i)
	if key := c.Query("key"); key != "" {
		car.HandleKey(key)
	}

	slide := car.Current()
	view.Slide = slide
	view.Src = template.URL(carousel.Src(slide)) // nolint:gosec
	view.Index = car.Index()
	view.Position = car.Index() + 1
	view.Total = car.Len()
	view.PrevURL = galleryURL(op, car.PrevIndex())
	view.NextURL = galleryURL(op, car.NextIndex())
	view.Fallback = env.Fallback

	c.HTML(http.StatusOK, "gallery.html", view)
}
