package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/resume-matcher/internal/ai"
	"github.com/spigell/resume-matcher/internal/filtering"
	"github.com/spigell/resume-matcher/internal/logger"
	"github.com/spigell/resume-matcher/internal/matching"
	"github.com/spigell/resume-matcher/internal/posting"
	"github.com/spigell/resume-matcher/internal/session"
	"github.com/spigell/resume-matcher/internal/stream"
	"github.com/spigell/resume-matcher/internal/utils"
)

const (
	PromptExit            = "Exit"
	PromptBack            = "back"
	PromptShowMatches     = "Show matches"
	PromptChangeSort      = "Change sort order"
	PromptChangeDateRange = "Change date range"
	PromptChangeCompanies = "Select companies"
	PromptClearCompanies  = "Clear company selection"
	PromptReportByCompany = "Report by companies"
	PromptMatchesToFile   = "Dump matches to file"
	matchRetryDelay       = 2 * time.Second
	maxMatchRetryDelay    = 30 * time.Second
)

var errExit = errors.New("exit requested")

var prompt = promptui.Select{
	Label: "What next?",
	Items: []string{
		PromptShowMatches,
		PromptChangeSort,
		PromptChangeDateRange,
		PromptChangeCompanies,
		PromptClearCompanies,
		PromptReportByCompany,
		PromptMatchesToFile,
		PromptExit,
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <resume.txt>",
	Short: "Extract a profile from a resume and rank the job corpus against it",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		analyze(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringP("prompt", "p", "", "additional context for the extraction")
	analyzeCmd.Flags().BoolP("stream", "s", false, "print the extraction as it arrives")
	analyzeCmd.Flags().BoolP("interactive", "i", false, "refine the matches in an interactive prompt")
	analyzeCmd.Flags().Int("match-retries", 0, "how many times to retry a failed match request")
	analyzeCmd.Flags().StringSlice("company", nil, "only show postings of these companies")
	analyzeCmd.Flags().String("date-range", "", "posting age: all, today, week or month")
	analyzeCmd.Flags().String("sort", "", "order of matches: similarity or date")

	viper.BindPFlag("extraction.instructions", analyzeCmd.Flags().Lookup("prompt"))
	viper.BindPFlag("filter.companies", analyzeCmd.Flags().Lookup("company"))
	viper.BindPFlag("filter.date-range", analyzeCmd.Flags().Lookup("date-range"))
	viper.BindPFlag("filter.sort", analyzeCmd.Flags().Lookup("sort"))
}

func analyze(cmd *cobra.Command, resumePath string) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the resume-matcher", zap.String("version", version))

	document, err := os.ReadFile(resumePath)
	if err != nil {
		logger.Fatal("reading the resume", zap.Error(err), zap.String("path", resumePath))
	}

	stack, err := newStack(ctx, config, logger)
	if err != nil {
		logger.Fatal("building components", zap.Error(err),
			zap.String("hint", "check the provider, store and cache sections of the configuration"),
		)
	}
	defer stack.Close()

	sess, err := stack.newSession()
	if err != nil {
		logger.Fatal("creating a session", zap.Error(err))
	}

	printDeltas := cmd.Flag("stream").Value.String() == "true"

	instructions := ""
	if config.Extraction != nil {
		instructions = config.Extraction.Instructions
	}

	sub, err := sess.SubmitDocument(ctx, ai.ExtractionRequest{
		Document:     string(document),
		Instructions: instructions,
	}, func(ev stream.DeltaEvent) {
		if printDeltas {
			fmt.Print(ev.Text)
		}
	})
	if err != nil {
		logger.Fatal("submitting the resume", zap.Error(err))
	}

	p, err := sub.Wait(ctx)
	if printDeltas {
		fmt.Println()
	}
	if err != nil {
		logger.Fatal("extracting a profile", zap.Error(err), zap.Int("partial_length", len(sub.Partial())))
	}

	logger.Info("profile extracted",
		zap.String("experience_level", string(p.ExperienceLevel)),
		zap.Int("technical_skills", len(p.TechnicalSkillList())),
		zap.Int("soft_skills", len(p.SoftSkillList())),
		zap.Int("work_experience", len(p.WorkExperience)),
	)

	retries, _ := cmd.Flags().GetInt("match-retries")
	if _, err := requestMatches(ctx, sess, retries, logger); err != nil {
		logger.Fatal("matching jobs", zap.Error(err))
	}

	state, err := filterState(config.Filter)
	if err != nil {
		logger.Fatal("parsing filter settings", zap.Error(err))
	}

	visible, err := sess.ApplyFilter(state)
	if err != nil {
		logger.Fatal("applying filters", zap.Error(err))
	}

	printMatches(visible)

	if visible.Len() == 0 && sess.Snapshot().Ranked.Len() == 0 {
		logger.Info("exiting", zap.String("reason", "no matches found"))
		return
	}

	if cmd.Flag("interactive").Value.String() != "true" {
		return
	}

	for {
		_, action, err := prompt.Run()
		if err != nil {
			logger.Fatal("exiting", zap.Error(err))
		}

		if err := handleAction(action, sess, logger); err != nil {
			if errors.Is(err, errExit) {
				return
			}
			logger.Fatal("exiting", zap.Error(err))
		}
	}
}

// requestMatches retries only the failures a second attempt can fix.
func requestMatches(ctx context.Context, sess *session.Session, retries int, logger *zap.Logger) (posting.Matches, error) {
	for attempt := 0; ; attempt++ {
		matches, err := sess.RequestMatches(ctx, nil)
		if err == nil {
			logger.Info("getting matches", zap.Int("count", matches.Len()))
			return matches, nil
		}

		retryable := errors.Is(err, matching.ErrEmbeddingFailure) || errors.Is(err, matching.ErrStoreQueryFailure)
		if !retryable || attempt >= retries {
			return posting.Matches{}, err
		}

		delay := utils.Backoff(matchRetryDelay, maxMatchRetryDelay, attempt)
		logger.Warn("match request failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
		)

		if err := utils.WaitFor(ctx, delay); err != nil {
			return posting.Matches{}, err
		}
	}
}

func filterState(cfg *FilterConfig) (filtering.State, error) {
	state := filtering.DefaultState()
	if cfg == nil {
		return state, nil
	}

	state.SelectedCompanies = cfg.Companies
	state.DateRange = filtering.DateRange(strings.TrimSpace(cfg.DateRange))
	state.SortOrder = filtering.SortOrder(strings.TrimSpace(cfg.Sort))

	return state.Normalize()
}

func handleAction(action string, sess *session.Session, logger *zap.Logger) error {
	snap := sess.Snapshot()

	switch action {
	case PromptShowMatches:
		printMatches(snap.Visible)
		return nil
	case PromptExit:
		logger.Info("exiting", zap.String("reason", "got exit from prompt"))
		return errExit
	case PromptChangeSort:
		order, err := choose("Sort by", string(filtering.SortBySimilarity), string(filtering.SortByDate))
		if err != nil || order == PromptBack {
			return err
		}
		next := snap.Filter
		next.SortOrder = filtering.SortOrder(order)
		return refilter(sess, next, logger)
	case PromptChangeDateRange:
		dateRange, err := choose("Date range",
			string(filtering.DateRangeAll), string(filtering.DateRangeToday),
			string(filtering.DateRangeWeek), string(filtering.DateRangeMonth),
		)
		if err != nil || dateRange == PromptBack {
			return err
		}
		next := snap.Filter
		next.DateRange = filtering.DateRange(dateRange)
		return refilter(sess, next, logger)
	case PromptChangeCompanies:
		return selectCompanies(sess, logger)
	case PromptClearCompanies:
		next := snap.Filter
		next.SelectedCompanies = []string{}
		return refilter(sess, next, logger)
	case PromptReportByCompany:
		pretty, _ := json.MarshalIndent(snap.Visible.ReportByCompany(), "", "  ")
		logger.Info(string(pretty), zap.Int("matches count", snap.Visible.Len()))
		return nil
	case PromptMatchesToFile:
		filename, err := snap.Visible.DumpToTmpFile()
		if err != nil {
			return fmt.Errorf("dump results to file: %w", err)
		}
		logger.Info("dumping result to file", zap.String("filename", filename))
		return nil
	default:
		return fmt.Errorf("invalid action: %s", action)
	}
}

func selectCompanies(sess *session.Session, logger *zap.Logger) error {
	for {
		snap := sess.Snapshot()

		selected := make(map[string]bool, len(snap.Filter.SelectedCompanies))
		for _, name := range snap.Filter.SelectedCompanies {
			selected[name] = true
		}

		items := make([]string, 0)
		for _, name := range snap.Ranked.Companies() {
			mark := "[ ]"
			if selected[name] {
				mark = "[x]"
			}
			items = append(items, fmt.Sprintf("%s %s", mark, name))
		}

		companyPrompt := promptui.Select{
			Label: "Toggle a company and press ENTER",
			Items: append(items, PromptBack),
			Size:  15,
		}

		_, item, err := companyPrompt.Run()
		if err != nil {
			return err
		}
		if item == PromptBack {
			return nil
		}

		name := strings.TrimSpace(item[len("[ ]"):])
		next := snap.Filter
		if selected[name] {
			next.SelectedCompanies = remove(next.SelectedCompanies, name)
		} else {
			next.SelectedCompanies = append(append([]string{}, next.SelectedCompanies...), name)
		}

		if err := refilter(sess, next, logger); err != nil {
			return err
		}
	}
}

func refilter(sess *session.Session, state filtering.State, logger *zap.Logger) error {
	visible, err := sess.ApplyFilter(state)
	if err != nil {
		return err
	}

	logger.Info("current list of matches",
		zap.Int("count", visible.Len()),
		zap.Strings("companies", sess.Snapshot().Filter.SelectedCompanies),
		zap.String("date_range", string(sess.Snapshot().Filter.DateRange)),
		zap.String("sort", string(sess.Snapshot().Filter.SortOrder)),
	)
	return nil
}

func choose(label string, items ...string) (string, error) {
	sel := promptui.Select{Label: label, Items: append(items, PromptBack)}
	_, item, err := sel.Run()
	return item, err
}

func remove(items []string, name string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item != name {
			out = append(out, item)
		}
	}
	return out
}

func printMatches(m posting.Matches) {
	for i, match := range m.Items {
		posted := match.DatePosted
		if posted == "" {
			posted = "-"
		}
		fmt.Printf("%3d. %.3f  %s / %s / %s / %s\n",
			i+1, match.SimilarityScore, match.Title, match.CompanyName, posted, match.ApplicationURL,
		)
	}
}
