package ideas

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/idea-forge/internal/analysis"
	"github.com/ZanzyTHEbar/idea-forge/internal/database"
	"github.com/ZanzyTHEbar/idea-forge/internal/errors"
	"github.com/ZanzyTHEbar/idea-forge/internal/resilience"
	"github.com/ZanzyTHEbar/idea-forge/internal/types"
)

const (
	defaultQuality = 50.0
	maxQuality     = 100.0
)

// ModuleRepository is the module persistence needed by ModuleService
type ModuleRepository interface {
	InsertModule(ctx context.Context, module *types.Module) error
	UpdateModuleContent(ctx context.Context, id string, moduleType types.ModuleType, content string, tags []string) (*types.Module, error)
	GetModule(ctx context.Context, id string) (*types.Module, error)
}

// QuestionGenerator writes follow-up questions for a module
type QuestionGenerator interface {
	GenerateQuestions(ctx context.Context, moduleType types.ModuleType, content string) ([]string, error)
}

// Questions is a set of follow-up questions for one module version
type Questions struct {
	ModuleID  string   `json:"module_id"`
	Version   int      `json:"version"`
	Questions []string `json:"questions"`
	Fallback  bool     `json:"fallback"`
}

var fallbackQuestions = map[types.ModuleType][]string{
	types.ModuleProblem: {
		"Who feels this problem most often?",
		"How do people work around it today?",
		"What does the problem cost them?",
	},
	types.ModuleSolution: {
		"What is the smallest version that solves the problem?",
		"Why has nobody built this already?",
		"What would make users switch from their current workaround?",
	},
	types.ModuleTargetCustomer: {
		"Where can you reach your first hundred customers?",
		"What do they already pay for?",
		"Who makes the buying decision?",
	},
	types.ModuleValueProposition: {
		"What outcome do customers get in their first week?",
		"How is this better than the best alternative?",
	},
	types.ModuleRevenueModel: {
		"Who pays, and how often?",
		"What price would a customer accept without a discount?",
		"How does revenue grow with usage?",
	},
	types.ModuleKeyActivities: {
		"Which activity must you do better than anyone else?",
		"What can be automated from day one?",
	},
	types.ModuleKeyResources: {
		"Which resource is hardest to acquire?",
		"What do you already have that others lack?",
	},
	types.ModuleChannels: {
		"Which channel brings the cheapest first customer?",
		"How will existing users bring in new ones?",
	},
	types.ModuleCompetitiveAdvantage: {
		"What gets harder to copy as you grow?",
		"Who would be hurt most if you succeeded?",
	},
	types.ModuleMarketSize: {
		"How many customers could buy this next year?",
		"What is the market worth if you win a tenth of it?",
	},
	types.ModuleTeam: {
		"Which skill is missing from the team?",
		"Why is this team the right one to build it?",
	},
	types.ModulePotentialRisks: {
		"What single event would end the project?",
		"Which assumption is cheapest to test first?",
	},
}

var genericQuestions = []string{
	"Who benefits most from this?",
	"What would you test first?",
	"What would make this fail?",
}

// FallbackQuestions returns the static questions for moduleType
func FallbackQuestions(moduleType types.ModuleType) []string {
	if qs, ok := fallbackQuestions[moduleType]; ok {
		return append([]string(nil), qs...)
	}
	return append([]string(nil), genericQuestions...)
}

// ModuleService manages modules and their follow-up questions
type ModuleService struct {
	repo      ModuleRepository
	generator QuestionGenerator
	guard     *resilience.Guard[[]string]
	forget    func(id string)
}

// NewModuleService creates a service. generator may be nil, in which case
// static questions are served. forget is called with a module id whenever its
// content changes so cached embeddings are dropped.
func NewModuleService(repo ModuleRepository, generator QuestionGenerator, guard *resilience.Guard[[]string], forget func(id string)) *ModuleService {
	if guard == nil {
		guard = resilience.NewGuard[[]string](resilience.ServiceAIAnalysis, resilience.DefaultRetryConfig(), nil)
	}
	if forget == nil {
		forget = func(string) {}
	}
	return &ModuleService{repo: repo, generator: generator, guard: guard, forget: forget}
}

func validateModule(req types.ModuleRequest) (types.ModuleType, string, error) {
	moduleType := types.ParseModuleType(req.Type)
	if moduleType == types.ModuleTypeUnknown {
		return "", "", errors.NewValidationError("unknown module type", req.Type)
	}
	content := analysis.NormalizeText(req.Content)
	if content == "" {
		return "", "", errors.NewValidationError("module content is required")
	}
	if analysis.TextLength(content) > analysis.MaxTextLength {
		return "", "", errors.NewValidationError("module content is too long")
	}
	if req.QualityScore != nil && (*req.QualityScore < 0 || *req.QualityScore > maxQuality) {
		return "", "", errors.NewValidationError("quality score must be between 0 and 100")
	}
	return moduleType, content, nil
}

// Create stores a new module
func (s *ModuleService) Create(ctx context.Context, createdBy string, req types.ModuleRequest) (*types.Module, error) {
	moduleType, content, err := validateModule(req)
	if err != nil {
		return nil, err
	}
	quality := defaultQuality
	if req.QualityScore != nil {
		quality = *req.QualityScore
	}

	module := &types.Module{
		Type:         moduleType,
		Content:      content,
		Tags:         analysis.NormalizeTags(req.Tags),
		CreatedBy:    createdBy,
		QualityScore: quality,
	}
	if err := s.repo.InsertModule(ctx, module); err != nil {
		return nil, fmt.Errorf("failed to create module: %w", err)
	}
	return module, nil
}

// Update edits a module's content. The version is bumped and the stored
// embedding is cleared.
func (s *ModuleService) Update(ctx context.Context, id string, req types.ModuleRequest) (*types.Module, error) {
	moduleType, content, err := validateModule(req)
	if err != nil {
		return nil, err
	}
	module, err := s.repo.UpdateModuleContent(ctx, id, moduleType, content, analysis.NormalizeTags(req.Tags))
	if stderrors.Is(err, database.ErrNotFound) {
		return nil, errors.NewNotFoundError("module", id)
	}
	if err != nil {
		return nil, err
	}
	s.forget(id)
	return module, nil
}

// Get loads a module
func (s *ModuleService) Get(ctx context.Context, id string) (*types.Module, error) {
	module, err := s.repo.GetModule(ctx, id)
	if stderrors.Is(err, database.ErrNotFound) {
		return nil, errors.NewNotFoundError("module", id)
	}
	return module, err
}

// Questions generates follow-up questions for a module. Concurrent requests
// for the same module version share one generation; when generation fails the
// static questions for the module type are returned.
func (s *ModuleService) Questions(ctx context.Context, id string) (*Questions, error) {
	module, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	out := &Questions{ModuleID: module.ID, Version: module.Version}
	if s.generator == nil {
		out.Questions = FallbackQuestions(module.Type)
		out.Fallback = true
		return out, nil
	}

	key := fmt.Sprintf("questions:%s:%s:%d", module.Type, module.ID, module.Version)
	outcome := s.guard.Do(ctx, key, func(ctx context.Context) ([]string, error) {
		return s.generator.GenerateQuestions(ctx, module.Type, module.Content)
	}, func(error) []string {
		return FallbackQuestions(module.Type)
	})

	out.Questions = cleanQuestions(outcome.Value)
	out.Fallback = outcome.Fallback
	if len(out.Questions) == 0 {
		out.Questions = FallbackQuestions(module.Type)
		out.Fallback = true
	}
	return out, nil
}

func cleanQuestions(in []string) []string {
	out := make([]string, 0, len(in))
	for _, q := range in {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out
}
