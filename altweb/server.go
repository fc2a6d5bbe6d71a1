package altweb

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Port is the default port of the estimate feed.
const Port = 8000

//go:embed res
var res embed.FS

// templateHandler serves a single page from res.
type templateHandler struct {
	once     sync.Once
	filename string
	templ    *template.Template
}

func (t *templateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.once.Do(func() {
		t.templ = template.Must(template.ParseFS(res, "res/"+t.filename))
	})
	t.templ.Execute(w, r)
}

// NewHandler serves the viewer page at / and the estimate feed of room at /altweb.
func NewHandler(room *Room) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", &templateHandler{filename: "index.html"})
	mux.Handle("/altweb", room)
	return mux
}

// ListenAndServe serves h on addr until ctx is done.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		logger.Info("AltWeb: starting web server", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	}
}
