package filtering

import (
	"strings"

	"github.com/spigell/resume-matcher/internal/posting"
)

type companiesFilter struct {
	selected map[string]struct{}
	names    []string
	reason   string
}

// NewCompanies keeps matches whose company is selected. An empty selection
// keeps everything.
func NewCompanies(companies []string) Filter {
	selected := make(map[string]struct{}, len(companies))
	names := make([]string, 0, len(companies))
	for _, company := range companies {
		if _, ok := selected[company]; ok {
			continue
		}
		selected[company] = struct{}{}
		names = append(names, company)
	}
	return &companiesFilter{selected: selected, names: names}
}

func (f *companiesFilter) Name() string { return "companies" }

func (f *companiesFilter) Disable(reason string) {
	f.selected = nil
	f.reason = reason
}

func (f *companiesFilter) IsEnabled() bool { return len(f.selected) > 0 }

func (f *companiesFilter) Apply(m posting.Matches) (posting.Matches, Step) {
	if !f.IsEnabled() {
		return keep(m, func(posting.RankedMatch) bool { return true })
	}
	return keep(m, func(match posting.RankedMatch) bool {
		_, ok := f.selected[match.CompanyName]
		return ok
	})
}

func (f *companiesFilter) Status() Status {
	details := map[string]string{}
	reason := f.reason
	if len(f.selected) > 0 {
		details["companies"] = strings.Join(f.names, ",")
	} else if reason == "" {
		reason = "no companies selected"
	}
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: reason, Details: details}
}
