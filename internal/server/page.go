package server

import (
	_ "embed"
	"net/http"
)

//go:embed web/dashboard.html
var dashboardPage []byte

func servePage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(dashboardPage)
}
