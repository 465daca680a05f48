package handlers

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
)

// SPAHandler отдает собранный фронтенд. Неизвестные пути получают index.html,
// чтобы маршрутизация работала на стороне клиента.
type SPAHandler struct {
	staticPath string
	indexPath  string
}

func NewSPAHandler(staticPath string) SPAHandler {
	return SPAHandler{staticPath: staticPath, indexPath: "index.html"}
}

func (h SPAHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		sendError(w, http.StatusMethodNotAllowed, "Method not allowed", "")
		return
	}

	path := filepath.Join(h.staticPath, filepath.Clean("/"+r.URL.Path))

	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && fi.IsDir()) {
		http.ServeFile(w, r, filepath.Join(h.staticPath, h.indexPath))
		return
	}
	if err != nil {
		sendError(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}

	http.FileServer(http.Dir(h.staticPath)).ServeHTTP(w, r)
}
