package domain

const (
	// DefaultPageLimit — размер страницы, если он не задан.
	DefaultPageLimit = 10
	// MaxPageLimit — верхняя граница размера страницы.
	MaxPageLimit = 100
)

// Page — страница каталога; номер страницы начинается с 1.
type Page struct {
	Number int
	Limit  int
}

// NewPage нормализует номер и размер страницы.
func NewPage(number, limit int) Page {
	if number < 1 {
		number = 1
	}
	return Page{Number: number, Limit: ClampLimit(limit, DefaultPageLimit)}
}

// ClampLimit ограничивает размер выборки сверху MaxPageLimit;
// значение меньше 1 заменяется на def.
func ClampLimit(limit, def int) int {
	if limit < 1 {
		limit = def
	}
	return min(max(limit, 1), MaxPageLimit)
}

// Offset возвращает количество пропускаемых строк.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Limit
}
