package api

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"tracker/internal/models"
	"tracker/internal/tracking"
)

//go:embed pages/templates
var pageTemplateFS embed.FS

// page template names, one file each under pages/templates.
const (
	pageTrackForm = "track_form"
	pageTrack     = "track"
	pageHistory   = "history"
	pageMessage   = "message"
)

// Pages renders the public tracking pages in English and Arabic.
type Pages struct {
	service   tracking.ServiceInterface
	locales   *localeMatcher
	templates map[string]*template.Template
}

// NewPages parses the embedded templates. defaultLocale is used when the
// Accept-Language header matches no supported locale.
func NewPages(service tracking.ServiceInterface, defaultLocale string) (*Pages, error) {
	if !contains(models.SupportedLocales, defaultLocale) {
		return nil, fmt.Errorf("unsupported default locale: %s", defaultLocale)
	}

	funcs := template.FuncMap{
		"t":           translate,
		"statusLabel": statusLabel,
		"statusClass": models.StatusCategory,
		"date":        formatDate,
		"clock":       formatTime,
		"weight":      func(kg float64) string { return fmt.Sprintf("%.3f", kg) },
		"money":       func(v float64) string { return fmt.Sprintf("%.2f", v) },
		"deref":       derefTime,
	}

	templates := make(map[string]*template.Template)
	for _, name := range []string{pageTrackForm, pageTrack, pageHistory, pageMessage} {
		tmpl, err := template.New(name).Funcs(funcs).ParseFS(pageTemplateFS,
			"pages/templates/layout.html",
			"pages/templates/"+name+".html",
		)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s page: %w", name, err)
		}
		templates[name] = tmpl
	}

	return &Pages{
		service:   service,
		locales:   newLocaleMatcher(defaultLocale),
		templates: templates,
	}, nil
}

// pageData is embedded in every page data struct.
type pageData struct {
	Locale    string
	Dir       string
	AltLocale string
	AltPath   string
}

type trackData struct {
	pageData
	Order *models.Order
}

type historyData struct {
	pageData
	Customer models.CustomerSummary
	Orders   []*models.Order
}

type messageData struct {
	pageData
	Title   string
	Message string
}

func (p *Pages) base(r *http.Request, locale string) pageData {
	alt := p.locales.locales[0]
	for _, l := range p.locales.locales {
		if l != locale {
			alt = l
			break
		}
	}

	dir := "ltr"
	if isRTL(locale) {
		dir = "rtl"
	}

	altPath := "/" + alt + "/track"
	if path := r.URL.EscapedPath(); strings.HasPrefix(path, "/"+locale+"/") {
		altPath = "/" + alt + strings.TrimPrefix(path, "/"+locale)
	}

	return pageData{
		Locale:    locale,
		Dir:       dir,
		AltLocale: alt,
		AltPath:   altPath,
	}
}

// render executes the named page, writing 500 on error.
func (p *Pages) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	var buf bytes.Buffer
	if err := p.templates[name].ExecuteTemplate(&buf, "layout", data); err != nil {
		slog.ErrorContext(r.Context(), "Page template error", "template", name, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (p *Pages) renderMessage(w http.ResponseWriter, r *http.Request, locale string, status int, title, message string) {
	p.render(w, r, status, pageMessage, messageData{
		pageData: p.base(r, locale),
		Title:    title,
		Message:  message,
	})
}

// RedirectLocalized sends unprefixed page paths to the same path under the
// negotiated locale, keeping the query string.
// GET /, /track, /track/{trackingNumber}, /history/{accessCode}
func (p *Pages) RedirectLocalized(w http.ResponseWriter, r *http.Request) {
	locale := p.locales.match(r)

	path := r.URL.EscapedPath()
	if path == "/" {
		path = "/track"
	}

	target := "/" + locale + path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// TrackForm renders the lookup form. A tn query parameter redirects to the
// tracking page for that number.
// GET /{locale}/track
func (p *Pages) TrackForm(w http.ResponseWriter, r *http.Request) {
	locale := mux.Vars(r)["locale"]

	if tn := strings.TrimSpace(r.URL.Query().Get("tn")); tn != "" {
		http.Redirect(w, r, "/"+locale+"/track/"+url.PathEscape(tn), http.StatusSeeOther)
		return
	}

	p.render(w, r, http.StatusOK, pageTrackForm, p.base(r, locale))
}

// TrackPage renders one order with its shipment timeline.
// GET /{locale}/track/{trackingNumber}
func (p *Pages) TrackPage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	locale, tn := vars["locale"], strings.TrimSpace(vars["trackingNumber"])

	resp, err := p.service.LookupOrder(r.Context(), tn)
	if err != nil {
		p.renderServiceError(w, r, locale, err, "invalid_tracking", "order_not_found", tn)
		return
	}

	p.render(w, r, http.StatusOK, pageTrack, trackData{
		pageData: p.base(r, locale),
		Order:    resp.Order,
	})
}

// HistoryPage renders a customer's orders, newest first.
// GET /{locale}/history/{accessCode}
func (p *Pages) HistoryPage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	locale, code := vars["locale"], strings.TrimSpace(vars["accessCode"])

	resp, err := p.service.CustomerHistory(r.Context(), code)
	if err != nil {
		p.renderServiceError(w, r, locale, err, "invalid_access", "history_not_found", code)
		return
	}

	p.render(w, r, http.StatusOK, pageHistory, historyData{
		pageData: p.base(r, locale),
		Customer: resp.Customer,
		Orders:   resp.Orders,
	})
}

// NotFound renders the friendly 404 page in the negotiated locale.
func (p *Pages) NotFound(w http.ResponseWriter, r *http.Request) {
	locale := p.locales.match(r)
	if first, _, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/"); p.locales.supported(first) {
		locale = first
	}
	p.renderMessage(w, r, locale, http.StatusNotFound, translate(locale, "not_found"), translate(locale, "page_not_found"))
}

func (p *Pages) renderServiceError(w http.ResponseWriter, r *http.Request, locale string, err error, invalidKey, notFoundKey, identifier string) {
	var svcErr *tracking.ServiceError
	if !errors.As(err, &svcErr) || svcErr.StatusCode >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Page lookup failed", "error", err)
		p.renderMessage(w, r, locale, http.StatusInternalServerError, translate(locale, "site_title"), translate(locale, "error"))
		return
	}

	switch svcErr.StatusCode {
	case http.StatusNotFound:
		p.renderMessage(w, r, locale, http.StatusNotFound,
			translate(locale, "not_found"), fmt.Sprintf(translate(locale, notFoundKey), identifier))
	default:
		p.renderMessage(w, r, locale, svcErr.StatusCode,
			translate(locale, "not_found"), translate(locale, invalidKey))
	}
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
