package api

import (
	"fmt"
	"net/http"
	"time"

	"golang.org/x/text/language"

	"tracker/internal/models"
)

// localeMatcher picks a page locale from Accept-Language.
type localeMatcher struct {
	locales []string
	matcher language.Matcher
}

// newLocaleMatcher builds a matcher over models.SupportedLocales with
// defaultLocale first, so it wins when nothing in the header matches.
func newLocaleMatcher(defaultLocale string) *localeMatcher {
	locales := []string{defaultLocale}
	for _, l := range models.SupportedLocales {
		if l != defaultLocale {
			locales = append(locales, l)
		}
	}

	tags := make([]language.Tag, len(locales))
	for i, l := range locales {
		tags[i] = language.Make(l)
	}

	return &localeMatcher{locales: locales, matcher: language.NewMatcher(tags)}
}

func (m *localeMatcher) match(r *http.Request) string {
	_, idx := language.MatchStrings(m.matcher, r.Header.Get("Accept-Language"))
	return m.locales[idx]
}

func (m *localeMatcher) supported(locale string) bool {
	return contains(m.locales, locale)
}

func isRTL(locale string) bool {
	return locale == "ar"
}

// messages holds page strings per locale.
var messages = map[string]map[string]string{
	"en": {
		"site_title":        "Shipment Tracking",
		"find_shipment":     "Find your shipment",
		"tracking_hint":     "Enter tracking number (e.g., TRK-ABC123)",
		"track":             "Track",
		"order":             "Order",
		"route":             "Route",
		"from":              "From",
		"to":                "To",
		"express":           "Express",
		"standard":          "Standard",
		"estimated":         "Estimated delivery",
		"items":             "Items",
		"total_weight":      "Total weight",
		"tracking_number":   "Tracking number",
		"shipment":          "Shipment",
		"events":            "Events",
		"no_events":         "No tracking events yet.",
		"item":              "Item",
		"quantity":          "Qty",
		"unit_price":        "Unit price",
		"history_title":     "Your orders",
		"no_orders":         "No orders yet.",
		"not_found":         "Not found",
		"order_not_found":   "No shipment found for tracking number: %s",
		"history_not_found": "No customer found for access code: %s",
		"page_not_found":    "The page you are looking for does not exist.",
		"invalid_tracking":  "Invalid tracking number format.",
		"invalid_access":    "Invalid access code format.",
		"back":              "Back to search",
		"error":             "Something went wrong. Please try again later.",
		"switch_locale":     "العربية",
	},
	"ar": {
		"site_title":        "تتبع الشحنات",
		"find_shipment":     "ابحث عن شحنتك",
		"tracking_hint":     "أدخل رقم التتبع (مثال: TRK-ABC123)",
		"track":             "تتبع",
		"order":             "الطلب",
		"route":             "المسار",
		"from":              "من",
		"to":                "إلى",
		"express":           "مستعجل",
		"standard":          "عادي",
		"estimated":         "موعد متوقع",
		"items":             "العناصر",
		"total_weight":      "الوزن الإجمالي",
		"tracking_number":   "رقم التتبع",
		"shipment":          "الشحنة",
		"events":            "الأحداث",
		"no_events":         "لا توجد أحداث بعد.",
		"item":              "الصنف",
		"quantity":          "الكمية",
		"unit_price":        "سعر الوحدة",
		"history_title":     "طلباتك",
		"no_orders":         "لا توجد طلبات بعد.",
		"not_found":         "غير موجود",
		"order_not_found":   "لا توجد شحنة برقم التتبع: %s",
		"history_not_found": "لا يوجد عميل برمز الوصول: %s",
		"page_not_found":    "الصفحة التي تبحث عنها غير موجودة.",
		"invalid_tracking":  "صيغة رقم التتبع غير صحيحة.",
		"invalid_access":    "صيغة رمز الوصول غير صحيحة.",
		"back":              "العودة إلى البحث",
		"error":             "حدث خطأ ما. يرجى المحاولة لاحقاً.",
		"switch_locale":     "English",
	},
}

// arabicStatus translates status categories for display. The stored status
// text is never changed.
var arabicStatus = map[string]string{
	models.StatusCategoryDelivered:      "تم التسليم",
	models.StatusCategoryOutForDelivery: "خرج للتسليم",
	models.StatusCategoryPickedUp:       "تم الاستلام",
	models.StatusCategoryInTransit:      "قيد النقل",
	models.StatusCategoryProcessing:     "قيد المعالجة",
	models.StatusCategoryDelayed:        "تأخير",
	models.StatusCategoryCancelled:      "أُلغي",
}

var arabicMonths = [...]string{
	"يناير", "فبراير", "مارس", "أبريل", "مايو", "يونيو",
	"يوليو", "أغسطس", "سبتمبر", "أكتوبر", "نوفمبر", "ديسمبر",
}

func translate(locale, key string) string {
	if msg, ok := messages[locale][key]; ok {
		return msg
	}
	return messages["en"][key]
}

func statusLabel(locale, status string) string {
	if status == "" {
		return "—"
	}
	if locale == "ar" {
		if label, ok := arabicStatus[models.StatusCategory(status)]; ok {
			return label
		}
	}
	return status
}

// formatDate renders day, month name and year with Latin digits.
func formatDate(locale string, t time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.UTC()
	if locale == "ar" {
		return fmt.Sprintf("%02d %s %d", t.Day(), arabicMonths[t.Month()-1], t.Year())
	}
	return t.Format("02 January 2006")
}

func formatTime(t time.Time) string {
	return t.UTC().Format("15:04")
}
