package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/playwright-community/playwright-go"

	"github.com/agentarena/orchestrator/domain"
)

// Stagehand is the built-in automation backend. It attaches to the
// provisioned remote browser over CDP and drives a minimal plan/act/answer
// loop with an OpenAI-compatible model: the model picks a starting URL, the
// backend navigates and extracts the page, and the model produces the final
// answer from what it saw.
type Stagehand struct {
	apiKey string

	mu sync.Mutex
	pw *playwright.Playwright
}

// NewStagehand creates the stagehand backend. apiKey is the server-side
// OpenAI key; callers may override it per request via credentials.
func NewStagehand(apiKey string) *Stagehand {
	return &Stagehand{apiKey: apiKey}
}

// Name returns the backend identifier.
func (s *Stagehand) Name() string { return "stagehand" }

// ManagesBrowser is false: the orchestrator owns the browser session.
func (s *Stagehand) ManagesBrowser() bool { return false }

// runtime lazily installs and starts the Playwright driver. The driver is
// shared by all executions; pages live in the remote browser, not here.
func (s *Stagehand) runtime() (*playwright.Playwright, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pw != nil {
		return s.pw, nil
	}

	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if err := playwright.Install(opts); err != nil {
		return nil, fmt.Errorf("failed to install playwright: %w", err)
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	s.pw = pw
	return pw, nil
}

// Close stops the Playwright driver.
func (s *Stagehand) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pw == nil {
		return nil
	}
	err := s.pw.Stop()
	s.pw = nil
	return err
}

type navigationPlan struct {
	URL  string `json:"url"`
	Goal string `json:"goal"`
}

const planPrompt = `You control a web browser. Given the user's instruction, reply with a JSON object
{"url": "<absolute https URL to open first>", "goal": "<what to look for on that page>"}.
Reply with the JSON object only.`

const answerPrompt = `You just looked at a web page on the user's behalf. Using only the page content
provided, answer the user's original instruction in a short, direct message.`

// maxPageText bounds how much extracted page text is sent back to the model.
const maxPageText = 4000

// Run executes one instruction.
func (s *Stagehand) Run(ctx context.Context, in RunInput) (*RunOutput, error) {
	apiKey := s.apiKey
	if k, ok := in.Credentials["openai"]; ok && k != "" {
		apiKey = k
	}
	if apiKey == "" {
		return nil, fmt.Errorf("stagehand requires an OpenAI API key")
	}

	client := openai.NewClient(option.WithAPIKey(apiKey))
	model := modelName(in.Model)
	var usage domain.Usage
	var actions []domain.Action

	// Plan: let the model choose where to go.
	planResp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(planPrompt),
			openai.UserMessage(in.Instruction),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("plan completion failed: %w", err)
	}
	accumulateUsage(&usage, planResp)

	planContent, err := messageContent(planResp)
	if err != nil {
		return nil, fmt.Errorf("plan completion: %w", err)
	}
	plan, err := parsePlan(planContent)
	if err != nil {
		return nil, err
	}

	// Act: attach to the provisioned browser and load the page.
	pw, err := s.runtime()
	if err != nil {
		return nil, err
	}
	remote, err := pw.Chromium.ConnectOverCDP(in.CDPURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to browser session %s: %w", in.BrowserSessionID, err)
	}
	defer remote.Close()

	page, err := remotePage(remote)
	if err != nil {
		return nil, err
	}
	if _, err := page.Goto(plan.URL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		actions = append(actions, failedAction("navigate", err))
		return nil, fmt.Errorf("failed to navigate to %s: %w", plan.URL, err)
	}
	actions = append(actions, okAction("navigate", plan.URL))

	title, _ := page.Title()
	text, err := page.Locator("body").InnerText()
	if err != nil {
		actions = append(actions, failedAction("extract", err))
		return nil, fmt.Errorf("failed to extract page content: %w", err)
	}
	if len(text) > maxPageText {
		text = text[:maxPageText]
	}
	actions = append(actions, okAction("extract", title))

	// Answer: final message from the extracted content.
	answerResp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(answerPrompt),
			openai.UserMessage(fmt.Sprintf("Instruction: %s\n\nPage title: %s\n\nPage content:\n%s",
				in.Instruction, title, text)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("answer completion failed: %w", err)
	}
	accumulateUsage(&usage, answerResp)
	message, err := messageContent(answerResp)
	if err != nil {
		return nil, fmt.Errorf("answer completion: %w", err)
	}
	actions = append(actions, okAction("answer", ""))

	data, _ := json.Marshal(map[string]string{
		"planned_url": plan.URL,
		"goal":        plan.Goal,
		"page_title":  title,
	})

	return &RunOutput{
		Success: true,
		Message: message,
		Actions: actions,
		Usage:   usage,
		Data:    data,
	}, nil
}

// remotePage returns a page in the connected browser, reusing whatever the
// provider already opened before creating anything new.
func remotePage(remote playwright.Browser) (playwright.Page, error) {
	contexts := remote.Contexts()
	if len(contexts) > 0 {
		if pages := contexts[0].Pages(); len(pages) > 0 {
			return pages[0], nil
		}
		page, err := contexts[0].NewPage()
		if err != nil {
			return nil, fmt.Errorf("failed to open page: %w", err)
		}
		return page, nil
	}
	browserCtx, err := remote.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	page, err := browserCtx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	return page, nil
}

// modelName strips the provider prefix from a "provider/model" id.
func modelName(model string) string {
	if model == "" {
		return "gpt-4.1"
	}
	if _, name, ok := strings.Cut(model, "/"); ok {
		return name
	}
	return model
}

// parsePlan decodes the model's navigation plan, tolerating code fences.
func parsePlan(content string) (*navigationPlan, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var plan navigationPlan
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &plan); err != nil {
		return nil, fmt.Errorf("model returned an unparseable plan: %w", err)
	}
	if !strings.HasPrefix(plan.URL, "http://") && !strings.HasPrefix(plan.URL, "https://") {
		return nil, fmt.Errorf("model returned an invalid url: %q", plan.URL)
	}
	return &plan, nil
}

// messageContent extracts the first choice's message. Providers may return an
// empty choice list on content filtering or truncation.
func messageContent(resp *openai.ChatCompletion) (string, error) {
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func accumulateUsage(usage *domain.Usage, resp *openai.ChatCompletion) {
	usage.InputTokens += resp.Usage.PromptTokens
	usage.OutputTokens += resp.Usage.CompletionTokens
	usage.CachedTokens += resp.Usage.PromptTokensDetails.CachedTokens
	usage.TotalTokens += resp.Usage.TotalTokens
}

func okAction(name, content string) domain.Action {
	success := true
	return domain.Action{Name: name, Success: &success, ExtractedContent: content}
}

func failedAction(name string, err error) domain.Action {
	success := false
	return domain.Action{Name: name, Success: &success, Error: err.Error()}
}
