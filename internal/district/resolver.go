// Package district resolves free-text locations to canonical
// Ivano-Frankivsk districts via a street mapping table with heuristic
// fallback.
package district

import (
	"regexp"
	"strings"

	"olxmonitor/internal/listing"
)

// Source tags how a district was resolved so downstream consumers can
// weight confidence.
type Source string

const (
	SourceMapping   Source = "mapping"
	SourceHeuristic Source = "heuristic"
	SourceDefault   Source = "default"
)

// heuristicGroup is one district-level keyword pattern. Groups are tried
// in order; first match wins.
type heuristicGroup struct {
	pattern  *regexp.Regexp
	district string
}

var heuristics = []heuristicGroup{
	{regexp.MustCompile(`центр|галицьк|незалежност`), "Центр"},
	{regexp.MustCompile(`пасічн|тролейбус`), "Пасічна"},
	{regexp.MustCompile(`бам|івасюк|надрічн`), "БАМ"},
	{regexp.MustCompile(`каскад|24\s*серпн`), "Каскад"},
	{regexp.MustCompile(`вокзал|стефаник|залізнич`), "Залізничний (Вокзал)"},
	{regexp.MustCompile(`брати|хоткевич`), "Брати"},
	{regexp.MustCompile(`софіїв|пстрак`), "Софіївка"},
	{regexp.MustCompile(`будівельник|селянськ`), "Будівельників"},
	{regexp.MustCompile(`набережн|дністров`), "Набережна"},
	{regexp.MustCompile(`опришів|гуцульськ`), "Опришівці"},
}

// Resolver resolves location text against an ordered street mapping.
// It holds no mutable state; the mapping is fixed at construction.
type Resolver struct {
	mappings        []listing.StreetMapping
	defaultDistrict string
}

// NewResolver creates a resolver over the given mapping table. Mapping
// order is match priority; streets are expected to be unique.
func NewResolver(mappings []listing.StreetMapping, defaultDistrict string) *Resolver {
	return &Resolver{
		mappings:        mappings,
		defaultDistrict: defaultDistrict,
	}
}

// Resolve determines the district for a listing from its location text and
// description. It always returns a district: street mapping first, then
// district-level heuristics, then the configured default.
func (r *Resolver) Resolve(locationText, description string) (district, street string, source Source) {
	combined := strings.ToLower(locationText + " " + description)

	for _, m := range r.mappings {
		if strings.Contains(combined, strings.ToLower(m.Street)) {
			return m.District, m.Street, SourceMapping
		}
	}

	for _, h := range heuristics {
		if h.pattern.MatchString(combined) {
			return h.district, "", SourceHeuristic
		}
	}

	return r.defaultDistrict, "", SourceDefault
}

// Districts lists the canonical district names.
func Districts() []string {
	return []string{
		"Центр",
		"Пасічна",
		"БАМ",
		"Каскад",
		"Залізничний (Вокзал)",
		"Брати",
		"Софіївка",
		"Будівельників",
		"Набережна",
		"Опришівці",
	}
}

// DefaultMappings returns the seed street→district table. The store seeds
// its street_districts table from this on first migration; operators add
// further rows out-of-band.
func DefaultMappings() []listing.StreetMapping {
	return []listing.StreetMapping{
		// Центр
		{Street: "Августина Волошина", District: "Центр"},
		{Street: "Арсенальна", District: "Центр"},
		{Street: "Вічева", District: "Центр"},
		{Street: "Галицька", District: "Центр"},
		{Street: "Гетьмана Мазепи", District: "Центр"},
		{Street: "Грушевського", District: "Центр"},
		{Street: "Данила Галицького", District: "Центр"},
		{Street: "Дністровська", District: "Центр"},
		{Street: "Європейська", District: "Центр"},
		{Street: "Євгена Коновальця", District: "Центр"},
		{Street: "Січових Стрільців", District: "Центр"},
		{Street: "Шевченка", District: "Центр"},
		{Street: "Незалежності", District: "Центр"},
		{Street: "Леся Курбаса", District: "Центр"},
		{Street: "Мазепи", District: "Центр"},
		{Street: "Міцкевича", District: "Центр"},
		{Street: "Курбаса", District: "Центр"},
		// Пасічна
		{Street: "Пасічна", District: "Пасічна"},
		{Street: "Старопасічна", District: "Пасічна"},
		{Street: "Пасічна Нова", District: "Пасічна"},
		{Street: "Пасічний провулок", District: "Пасічна"},
		{Street: "Трускавецька", District: "Пасічна"},
		{Street: "Промислова", District: "Пасічна"},
		{Street: "Зелена", District: "Пасічна"},
		// БАМ
		{Street: "Північна", District: "БАМ"},
		{Street: "Відінська", District: "БАМ"},
		{Street: "БАМ", District: "БАМ"},
		{Street: "Богдана Хмельницького", District: "БАМ"},
		{Street: "Будівельна", District: "БАМ"},
		{Street: "Молодіжна", District: "БАМ"},
		{Street: "Польова", District: "БАМ"},
		// Каскад
		{Street: "Каскадна", District: "Каскад"},
		{Street: "Тисменицька", District: "Каскад"},
		{Street: "Вишнева", District: "Каскад"},
		{Street: "Ярослава Мудрого", District: "Каскад"},
		{Street: "Пушкіна", District: "Каскад"},
		{Street: "Лермонтова", District: "Каскад"},
		// Залізничний (Вокзал)
		{Street: "Залізнична", District: "Залізничний (Вокзал)"},
		{Street: "Привокзальна", District: "Залізничний (Вокзал)"},
		{Street: "Вокзальна", District: "Залізничний (Вокзал)"},
		{Street: "Станційна", District: "Залізничний (Вокзал)"},
		{Street: "Перонна", District: "Залізничний (Вокзал)"},
		// Брати
		{Street: "Братів Бойчуків", District: "Брати"},
		{Street: "Братів Рогатинців", District: "Брати"},
		{Street: "Чорновола", District: "Брати"},
		{Street: "Стуса", District: "Брати"},
		{Street: "Антоновича", District: "Брати"},
		// Софіївка
		{Street: "Софіївська", District: "Софіївка"},
		{Street: "Академіка Сахарова", District: "Софіївка"},
		{Street: "Сахарова", District: "Софіївка"},
		{Street: "Надбережна", District: "Софіївка"},
		// Набережна
		{Street: "Набережна Стефаника", District: "Набережна"},
		{Street: "Набережна", District: "Набережна"},
		{Street: "Річна", District: "Набережна"},
		{Street: "Прибережна", District: "Набережна"},
		// Будівельників
		{Street: "Будівельників", District: "Будівельників"},
		{Street: "Конструкторська", District: "Будівельників"},
		{Street: "Робітнича", District: "Будівельників"},
		{Street: "Енергетична", District: "Будівельників"},
		{Street: "Монтажна", District: "Будівельників"},
		// Опришівці
		{Street: "Опришівська", District: "Опришівці"},
		{Street: "Довбуша", District: "Опришівці"},
		{Street: "Карпатська", District: "Опришівці"},
		{Street: "Гуцульська", District: "Опришівці"},
	}
}
