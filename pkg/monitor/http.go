// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package monitor

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tinyfuzz/tinyfuzz/pkg/corpus"
	"github.com/tinyfuzz/tinyfuzz/pkg/fuzzconfig"
	"github.com/tinyfuzz/tinyfuzz/pkg/fuzzer"
	"github.com/tinyfuzz/tinyfuzz/pkg/html/pages"
	"github.com/tinyfuzz/tinyfuzz/pkg/log"
	"github.com/tinyfuzz/tinyfuzz/pkg/stat"
)

// StatSet is the source of the stat values, *stat.Set implements it.
type StatSet interface {
	Collect(level stat.Level) []stat.UI
	RenderGraphs() []stat.UIGraph
	Values() map[string]int
}

// Store is a testcase store that can be browsed, *corpus.Corpus implements it.
type Store interface {
	corpus.Store
	Stats() corpus.Stats
}

type HTTPServer struct {
	// To be set before calling Serve.
	Cfg       *fuzzconfig.Config
	Corpus    Store
	Solutions Store
	// Stats defaults to the global stat set.
	Stats StatSet
	// Gatherer defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// Log returns the recent log output, defaults to log.CachedLogOutput.
	Log func() string

	// Can be set dynamically after calling Serve.
	Fuzzer atomic.Pointer[fuzzer.Fuzzer]
}

const maxRecentCrashes = 20

// Handler returns the handler serving all monitor pages.
func (serv *HTTPServer) Handler() http.Handler {
	if serv.Stats == nil {
		serv.Stats = globalStats{}
	}
	if serv.Gatherer == nil {
		serv.Gatherer = prometheus.DefaultGatherer
	}
	if serv.Log == nil {
		serv.Log = log.CachedLogOutput
	}
	mux := http.NewServeMux()
	handle := func(pattern string, handler func(http.ResponseWriter, *http.Request)) {
		mux.Handle(pattern, handlers.CompressHandler(http.HandlerFunc(handler)))
	}
	// keep-sorted start
	handle("/", serv.httpMain)
	handle("/config", serv.httpConfig)
	handle("/corpus", serv.httpCorpus)
	handle("/crashes", serv.httpCrashes)
	handle("/graphs", serv.httpGraphs)
	handle("/input", serv.httpInput)
	handle("/log", serv.httpLog)
	handle("/metrics", promhttp.HandlerFor(serv.Gatherer, promhttp.HandlerOpts{}).ServeHTTP)
	handle("/stats", serv.httpStats)
	// keep-sorted end
	// Browsers like to request this, without special handler this goes to / handler.
	handle("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {})
	return handlers.LoggingHandler(log.VerboseWriter(2), mux)
}

func (serv *HTTPServer) Serve(ctx context.Context) error {
	if serv.Cfg.HTTP == "" {
		return fmt.Errorf("starting a disabled HTTP server")
	}
	log.Logf(0, "serving http on http://%v", serv.Cfg.HTTP)
	server := &http.Server{
		Addr:              serv.Cfg.HTTP,
		Handler:           serv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		// The http server package unfortunately does not natively take a context.Context.
		// Let's emulate it via server.Close().
		<-ctx.Done()
		server.Close()
	}()
	err := server.ListenAndServe()
	if err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (serv *HTTPServer) httpMain(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	data := &UISummaryData{
		UIPageHeader: serv.pageHeader("summary"),
		Log:          serv.Log(),
	}
	level := stat.Simple
	if r.FormValue("all") != "" {
		level = stat.All
	}
	data.Stats = serv.Stats.Collect(level)
	if f := serv.Fuzzer.Load(); f != nil {
		stats := f.Stats()
		data.Fuzzer = &stats
	}
	if serv.Solutions != nil {
		crashes, err := collectInputs(serv.Solutions, "crashes", maxRecentCrashes)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to collect crashes: %v", err), http.StatusInternalServerError)
			return
		}
		data.Crashes = crashes
	}
	executeTemplate(w, mainTemplate, data)
}

func (serv *HTTPServer) httpConfig(w http.ResponseWriter, r *http.Request) {
	serv.jsonPage(w, r, "config", serv.Cfg)
}

func (serv *HTTPServer) httpLog(w http.ResponseWriter, r *http.Request) {
	serv.textPage(w, r, "log", []byte(serv.Log()))
}

func (serv *HTTPServer) httpGraphs(w http.ResponseWriter, r *http.Request) {
	graphs, err := pages.StatsHTML(serv.Stats.RenderGraphs())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	data := &UITextPage{
		UIPageHeader: serv.pageHeader("graphs"),
		HTML:         graphs,
	}
	executeTemplate(w, textTemplate, data)
}

// StatsData is served on /stats.
type StatsData struct {
	Fuzzer    *fuzzer.Stats  `json:"fuzzer,omitempty"`
	Corpus    *corpus.Stats  `json:"corpus,omitempty"`
	Solutions *corpus.Stats  `json:"solutions,omitempty"`
	Stats     map[string]int `json:"stats"`
}

func (serv *HTTPServer) httpStats(w http.ResponseWriter, r *http.Request) {
	data := &StatsData{
		Stats: serv.Stats.Values(),
	}
	if f := serv.Fuzzer.Load(); f != nil {
		stats := f.Stats()
		data.Fuzzer = &stats
	}
	if serv.Corpus != nil {
		stats := serv.Corpus.Stats()
		data.Corpus = &stats
	}
	if serv.Solutions != nil {
		stats := serv.Solutions.Stats()
		data.Solutions = &stats
	}
	text, err := json.MarshalIndent(data, "", "\t")
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to encode json: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(text)
}

func (serv *HTTPServer) httpCorpus(w http.ResponseWriter, r *http.Request) {
	serv.inputsPage(w, "corpus", serv.Corpus)
}

func (serv *HTTPServer) httpCrashes(w http.ResponseWriter, r *http.Request) {
	serv.inputsPage(w, "crashes", serv.Solutions)
}

func (serv *HTTPServer) inputsPage(w http.ResponseWriter, title string, store Store) {
	if store == nil {
		http.Error(w, fmt.Sprintf("the %v is not yet available", title), http.StatusInternalServerError)
		return
	}
	inputs, err := collectInputs(store, title, 0)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to collect %v: %v", title, err), http.StatusInternalServerError)
		return
	}
	data := &UIInputsPage{
		UIPageHeader: serv.pageHeader(title),
		Inputs:       inputs,
	}
	executeTemplate(w, inputsTemplate, data)
}

// httpInput serves raw bytes of a single input: /input?store=corpus&id=N.
func (serv *HTTPServer) httpInput(w http.ResponseWriter, r *http.Request) {
	var store Store
	switch r.FormValue("store") {
	case "corpus", "":
		store = serv.Corpus
	case "crashes":
		store = serv.Solutions
	default:
		http.Error(w, "unknown store", http.StatusBadRequest)
		return
	}
	if store == nil {
		http.Error(w, "the store is not yet available", http.StatusInternalServerError)
		return
	}
	id, err := strconv.Atoi(r.FormValue("id"))
	if err != nil || id < 0 || id >= store.Count() {
		http.Error(w, "invalid input id", http.StatusBadRequest)
		return
	}
	tc, err := store.Get(corpus.ID(id))
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to load input: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%v", tc.Sig()))
	w.Write(tc.Data)
}

// collectInputs returns the last limit inputs of the store (all if limit is 0), newest first.
func collectInputs(store Store, name string, limit int) ([]UIInput, error) {
	ids := store.IDs()
	if limit != 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	var inputs []UIInput
	for _, id := range ids {
		tc, err := store.Get(id)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, UIInput{
			ID:       int(id),
			Sig:      tc.Sig().String(),
			Link:     fmt.Sprintf("/input?store=%v&id=%v", name, id),
			Size:     len(tc.Data),
			Cover:    tc.Meta.CoverSize,
			NewCover: tc.Meta.NewCover,
			Outcome:  tc.Meta.Outcome,
			ExecTime: tc.Meta.ExecTime,
			Parent:   tc.Meta.Parent,
			Found:    tc.Meta.Found,
		})
	}
	sort.SliceStable(inputs, func(i, j int) bool {
		return inputs[i].ID > inputs[j].ID
	})
	return inputs, nil
}

func (serv *HTTPServer) jsonPage(w http.ResponseWriter, r *http.Request, title string, data any) {
	text, err := json.MarshalIndent(data, "", "\t")
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to encode json: %v", err), http.StatusInternalServerError)
		return
	}
	serv.textPage(w, r, title, text)
}

func (serv *HTTPServer) textPage(w http.ResponseWriter, r *http.Request, title string, text []byte) {
	if r.FormValue("raw") != "" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write(text)
		return
	}
	data := &UITextPage{
		UIPageHeader: serv.pageHeader(title),
		Text:         text,
	}
	executeTemplate(w, textTemplate, data)
}

func (serv *HTTPServer) pageHeader(title string) UIPageHeader {
	hdr := UIPageHeader{
		Name:      "tinyfuzz",
		PageTitle: title,
	}
	if serv.Cfg != nil && serv.Cfg.Name != "" {
		hdr.Name = serv.Cfg.Name
	}
	if f := serv.Fuzzer.Load(); f != nil {
		hdr.Session = f.Session()
	}
	return hdr
}

func executeTemplate(w http.ResponseWriter, templ *template.Template, data any) {
	buf := new(bytes.Buffer)
	if err := templ.Execute(buf, data); err != nil {
		log.Logf(0, "failed to execute template: %v", err)
		http.Error(w, fmt.Sprintf("failed to execute template: %v", err), http.StatusInternalServerError)
		return
	}
	w.Write(buf.Bytes())
}

type globalStats struct{}

func (globalStats) Collect(level stat.Level) []stat.UI { return stat.Collect(level) }
func (globalStats) RenderGraphs() []stat.UIGraph       { return stat.RenderGraphs() }
func (globalStats) Values() map[string]int             { return stat.Values() }

type UIPageHeader struct {
	Name      string
	PageTitle string
	Session   string
}

type UISummaryData struct {
	UIPageHeader
	Stats   []stat.UI
	Fuzzer  *fuzzer.Stats
	Crashes []UIInput
	Log     string
}

type UIInputsPage struct {
	UIPageHeader
	Inputs []UIInput
}

type UIInput struct {
	ID       int
	Sig      string
	Link     string
	Size     int
	Cover    int
	NewCover int
	Outcome  string
	ExecTime time.Duration
	Parent   string
	Found    time.Time
}

type UITextPage struct {
	UIPageHeader
	Text []byte
	HTML template.HTML
}

func createPage(name string, data any) *template.Template {
	page := strings.Replace(string(mustReadHTML("common")), "{{PAGE}}", string(mustReadHTML(name)), 1)
	templ := pages.Create(page)
	templTypes = append(templTypes, templType{
		templ: templ,
		data:  data,
	})
	return templ
}

type templType struct {
	templ *template.Template
	data  any
}

var templTypes []templType

var (
	mainTemplate   = createPage("main", &UISummaryData{})
	inputsTemplate = createPage("inputs", &UIInputsPage{})
	textTemplate   = createPage("text", &UITextPage{})
)

//go:embed html/*.html
var htmlFiles embed.FS

func mustReadHTML(name string) []byte {
	data, err := htmlFiles.ReadFile("html/" + name + ".html")
	if err != nil {
		panic(err)
	}
	return data
}
