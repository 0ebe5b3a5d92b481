package posting

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Posting is a job posting as stored in the corpus.
type Posting struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	CompanyName     string `json:"company_name"`
	Location        string `json:"location"`
	ApplicationURL  string `json:"application_url"`
	JobDescription  string `json:"job_description"`
	TechnicalSkills string `json:"technical_skills"`
	SoftSkills      string `json:"soft_skills"`
	ExperienceLevel string `json:"experience_level"`
	DatePosted      string `json:"date_posted"`
}

// RankedMatch is a posting with the similarity score computed by the store.
// The score is passed through unchanged and is not clamped.
type RankedMatch struct {
	Posting
	SimilarityScore float64 `json:"similarity_score"`
}

// Company is an entry of the company facet.
type Company struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Matches struct {
	Items []RankedMatch `json:"items"`
}

// Clone returns a copy that shares no backing array with m.
func (m Matches) Clone() Matches {
	items := make([]RankedMatch, len(m.Items))
	copy(items, m.Items)
	return Matches{Items: items}
}

func (m Matches) Len() int {
	return len(m.Items)
}

func (m Matches) FindByID(id string) (RankedMatch, bool) {
	for _, match := range m.Items {
		if match.ID == id {
			return match, true
		}
	}
	return RankedMatch{}, false
}

func (m Matches) IDs() []string {
	ids := make([]string, 0, len(m.Items))
	for _, match := range m.Items {
		ids = append(ids, match.ID)
	}
	return ids
}

// Companies returns the distinct company names, sorted.
func (m Matches) Companies() []string {
	seen := make(map[string]struct{})
	companies := make([]string, 0)
	for _, match := range m.Items {
		name := strings.TrimSpace(match.CompanyName)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		companies = append(companies, name)
	}
	sort.Strings(companies)
	return companies
}

func (m Matches) ReportByCompany() map[string][]map[string]string {
	report := make(map[string][]map[string]string)
	for _, match := range m.Items {
		report[match.CompanyName] = append(report[match.CompanyName], map[string]string{
			"id":         match.ID,
			"title":      match.Title,
			"url":        match.ApplicationURL,
			"location":   match.Location,
			"level":      match.ExperienceLevel,
			"posted":     match.DatePosted,
			"similarity": fmt.Sprintf("%.4f", match.SimilarityScore),
		})
	}
	return report
}

func (m Matches) DumpToTmpFile() (string, error) {
	file, err := os.CreateTemp("", "matches_*.json")
	if err != nil {
		return "", err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return "", err
	}
	return file.Name(), nil
}

// DedupeCompanies keeps the first company of every name, ordered by name.
func DedupeCompanies(companies []Company) []Company {
	seen := make(map[string]struct{}, len(companies))
	result := make([]Company, 0, len(companies))
	for _, company := range companies {
		if _, ok := seen[company.Name]; ok {
			continue
		}
		seen[company.Name] = struct{}{}
		result = append(result, company)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}
