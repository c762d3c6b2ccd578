package session

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"olxmonitor/internal/district"
	"olxmonitor/internal/extract"
	"olxmonitor/internal/listing"
	"olxmonitor/internal/seller"
	"olxmonitor/logger"
	errs "olxmonitor/pkg/errors"
)

// Selectors contains CSS selectors for the elements of a listing page.
type Selectors struct {
	Item       string
	Title      string
	Price      string
	Location   string
	Link       string
	Details    string
	SellerInfo string
}

// DefaultSelectors returns the selector set for OLX listing pages.
func DefaultSelectors() Selectors {
	return Selectors{
		Item:       "[data-cy='l-card']",
		Title:      "h6[data-cy='l-card-title']",
		Price:      "[data-testid='ad-price']",
		Location:   "[data-cy='l-card-location']",
		Link:       "a[data-cy='l-card-link']",
		Details:    "[data-cy='l-card-details']",
		SellerInfo: "[data-cy='seller-info']",
	}
}

// Parser turns one listing page into candidate records. It is stateless
// across pages; item fragments within a page are processed in parallel.
type Parser struct {
	selectors Selectors
	baseURL   string
	city      string
	resolver  *district.Resolver
	log       *logger.Logger
}

// NewParser creates a parser for the given source base URL.
func NewParser(selectors Selectors, baseURL, city string, resolver *district.Resolver) *Parser {
	return &Parser{
		selectors: selectors,
		baseURL:   baseURL,
		city:      city,
		resolver:  resolver,
		log:       logger.ForSession(),
	}
}

// ParsePage extracts all candidates from a page body. It returns the
// candidates, the number of item fragments found (zero fragments means the
// natural end of the result set), and the number of fragments dropped with
// errors.
func (p *Parser) ParsePage(body io.Reader, observedAt time.Time) ([]listing.Candidate, int, int) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		p.log.Error().Err(err).Msg("Failed to parse page HTML")
		return nil, 0, 1
	}

	items := doc.Find(p.selectors.Item)
	fragments := items.Length()
	if fragments == 0 {
		return nil, 0, 0
	}

	type result struct {
		candidate *listing.Candidate
		err       error
	}

	results := make(chan result, fragments)
	var wg sync.WaitGroup

	items.Each(func(i int, s *goquery.Selection) {
		wg.Add(1)
		go func(s *goquery.Selection) {
			defer wg.Done()
			cand, err := p.parseItem(s, observedAt)
			results <- result{candidate: cand, err: err}
		}(s)
	})

	wg.Wait()
	close(results)

	var candidates []listing.Candidate
	errors := 0
	for r := range results {
		if r.err != nil {
			errors++
			p.log.Warn().Err(r.err).Msg("Dropped listing item")
			continue
		}
		if r.candidate != nil {
			candidates = append(candidates, *r.candidate)
		}
	}

	return candidates, fragments, errors
}

// parseItem extracts one candidate from an item fragment. A fragment
// without a derivable external id is dropped, never stored with a
// synthetic id.
func (p *Parser) parseItem(s *goquery.Selection, observedAt time.Time) (*listing.Candidate, error) {
	title := extract.CleanText(s.Find(p.selectors.Title).Text())
	if title == "" {
		return nil, errs.NewParse("item", "missing title", nil)
	}

	link, _ := s.Find(p.selectors.Link).Attr("href")
	link = strings.TrimSpace(link)
	if link == "" {
		return nil, errs.NewParse("item", "missing link for "+title, nil)
	}
	if strings.HasPrefix(link, "/") {
		link = p.baseURL + link
	}

	externalID, ok := extract.ExternalID(link)
	if !ok {
		return nil, errs.NewParse(link, "could not derive external id", nil)
	}

	priceText := extract.CleanText(s.Find(p.selectors.Price).Text())
	locationText := extract.CleanText(s.Find(p.selectors.Location).Text())
	detailsText := extract.CleanText(s.Find(p.selectors.Details).Text())
	sellerText := extract.CleanText(s.Find(p.selectors.SellerInfo).Text())

	price, _ := extract.Price(priceText)
	fields := extract.ParseFields(title + " " + detailsText)
	districtName, street, source := p.resolver.Resolve(locationText, detailsText)

	classification := seller.Classify(seller.Input{
		Title:          title,
		Description:    detailsText,
		SellerTypeHint: sellerText,
	})

	cand := &listing.Candidate{
		ExternalID:       externalID,
		Title:            title,
		URL:              link,
		Price:            price,
		LocationCity:     p.city,
		LocationText:     locationText,
		District:         districtName,
		DistrictSource:   string(source),
		Street:           street,
		Rooms:            fields.Rooms,
		Area:             fields.Area,
		Floor:            fields.Floor,
		FloorsTotal:      fields.FloorsTotal,
		BuildingType:     fields.BuildingType,
		Renovation:       fields.Renovation,
		Description:      detailsText,
		SellerType:       classification.Type,
		SellerConfidence: classification.Confidence,
		Evidence:         classification.Evidence,
		ObservedAt:       observedAt,
	}

	p.log.Debug().
		Str("external_id", externalID).
		Str("district", districtName).
		Msg(fmt.Sprintf("Parsed listing: %.50s", title))

	return cand, nil
}
