// Package testapp serves a small page that honours the debug UI element
// contract. It stands in for the real application in tests and local runs.
package testapp

import (
	"encoding/json"
	"html/template"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
)

// Options selects fixture behaviour, including deliberate regressions.
type Options struct {
	// OmitSettingsButton leaves #settingsButton out of the page.
	OmitSettingsButton bool
	// HideDebugArea keeps #debugArea hidden even with debug mode on.
	HideDebugArea bool
	// HiddenPanels lists sub-panel ids that stay hidden.
	HiddenPanels []string
	// DebugEnabled is the initial debug mode setting.
	DebugEnabled bool
}

// Settings is the persisted application state.
type Settings struct {
	DebugMode bool `json:"debug_mode"`
}

// Server is the fixture application. Debug mode is remembered across page
// loads, the same way the real app keeps it between sessions.
type Server struct {
	opts   Options
	router *mux.Router

	mu       sync.Mutex
	settings Settings
}

// New creates a fixture server.
func New(opts Options) *Server {
	s := &Server{
		opts:     opts,
		settings: Settings{DebugMode: opts.DebugEnabled},
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.index).Methods("GET")
	r.HandleFunc("/api/settings", s.getSettings).Methods("GET")
	r.HandleFunc("/api/settings", s.putSettings).Methods("POST", "PUT")
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Settings returns the current application state.
func (s *Server) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

type pageData struct {
	Options
	Settings
	Hidden map[string]bool
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	data := pageData{
		Options:  s.opts,
		Settings: s.Settings(),
		Hidden:   make(map[string]bool, len(s.opts.HiddenPanels)),
	}
	for _, id := range s.opts.HiddenPanels {
		data.Hidden[id] = true
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.Settings())
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var in Settings
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.settings = in
	s.mu.Unlock()

	respondJSON(w, in)
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

var pageTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>CPCBasic</title>
<style>
  .hidden { display: none; }
  #debugArea { border: 1px solid #888; padding: 4px; }
  #debugArea > div { min-height: 40px; margin: 4px 0; }
</style>
</head>
<body data-hide-debug-area="{{.HideDebugArea}}">
{{if not .OmitSettingsButton}}<button id="settingsButton" type="button">Settings</button>{{end}}
<div id="settingsArea" class="hidden">
  <label><input id="debugModeInput" type="checkbox"{{if .DebugMode}} checked{{end}}> Debug mode</label>
</div>
<div id="debugArea" class="hidden">
  <div id="debugCallStack"{{if index .Hidden "debugCallStack"}} style="display: none"{{end}}>Call stack</div>
  <div id="debugConsoleArea"{{if index .Hidden "debugConsoleArea"}} style="display: none"{{end}}>Console</div>
  <div id="debugMemoryArea"{{if index .Hidden "debugMemoryArea"}} style="display: none"{{end}}>Memory</div>
</div>
<script>
(function () {
  var hideDebugArea = document.body.getAttribute("data-hide-debug-area") === "true";
  var input = document.getElementById("debugModeInput");
  var settingsButton = document.getElementById("settingsButton");

  function render() {
    var show = input.checked && !hideDebugArea;
    document.getElementById("debugArea").classList.toggle("hidden", !show);
  }

  if (settingsButton) {
    settingsButton.addEventListener("click", function () {
      document.getElementById("settingsArea").classList.toggle("hidden");
    });
  }

  input.addEventListener("change", function () {
    fetch("/api/settings", {
      method: "POST",
      headers: { "Content-Type": "application/json" },
      body: JSON.stringify({ debug_mode: input.checked })
    }).then(render, render);
  });

  render();
})();
</script>
</body>
</html>
`))
