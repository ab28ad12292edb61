// Package question derives the follow-up questions a session asks next.
package question

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/supplement-advisor-server/internal/domain"
)

const (
	priorityNormal = 1
	priorityHigh   = 2

	minExerciseSessions = 3
	minSleepHours       = 7
	maxStressLevel      = 3
)

// namespace scopes question ids so they never collide with other UUIDv5 users.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("supplement-advisor/questions"))

var riskQuestions = map[string]string{
	"obesity":                  "How would you describe your current diet and any weight management efforts?",
	"underweight":              "Have you noticed recent weight loss or a reduced appetite?",
	"hypertension":             "Are you currently monitoring or treating your blood pressure?",
	"high_cholesterol":         "Do you follow a specific diet or take medication for cholesterol?",
	"liver_function_abnormal":  "How often do you drink alcohol, and have you been told about liver problems before?",
	"impaired_fasting_glucose": "Has a doctor ever discussed blood sugar or diabetes risk with you?",
	"sedentary_lifestyle":      "What usually prevents you from being more physically active?",
}

// Generator builds question lists from a session's current state.
type Generator struct {
	logger *logrus.Logger
}

// NewGenerator creates a question generator.
func NewGenerator(logger *logrus.Logger) *Generator {
	return &Generator{logger: logger}
}

// ID returns the deterministic question id for a context within a session.
func ID(sessionID, context string) string {
	return uuid.NewSHA1(namespace, []byte(sessionID+"\x00"+context)).String()
}

// Generate returns the questions the session has not yet asked or had answered,
// sorted by descending priority. Calling it twice on the same session yields
// equal questions.
func (g *Generator) Generate(session domain.Session) []domain.Question {
	b := builder{
		sessionID: session.ID,
		seen:      make(map[string]bool),
		batch:     make(map[string]int),
	}
	for _, c := range session.AnsweredContexts {
		b.seen[c] = true
	}
	for _, q := range session.CurrentQuestions {
		b.seen[q.Context] = true
	}

	if result := session.AnalysisResult; result != nil {
		for _, w := range result.InteractionWarnings {
			b.interaction(w)
		}
	}
	for _, c := range session.HealthSnapshot.Conditions {
		b.add(domain.NewQuestionContext(domain.ContextConditionHistory, c),
			fmt.Sprintf("How long ago were you diagnosed with %s, and how is it currently managed?", c),
			priorityNormal, false, nil)
	}
	if result := session.AnalysisResult; result != nil {
		for _, rf := range result.PrimaryConcerns {
			if rf.Severity != domain.SeverityHigh {
				continue
			}
			text, ok := riskQuestions[rf.Type]
			if !ok {
				text = fmt.Sprintf("Can you tell us more about anything affecting your %s?", strings.ReplaceAll(rf.Type, "_", " "))
			}
			b.add(domain.NewQuestionContext(domain.ContextHealthRisk, rf.Type), text, priorityNormal, false, nil)
		}
	}
	b.lifestyle(session.HealthSnapshot.Lifestyle)

	sort.SliceStable(b.questions, func(i, j int) bool {
		return b.questions[i].Priority > b.questions[j].Priority
	})

	g.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"questions":  len(b.questions),
	}).Debug("Generated follow-up questions")
	return b.questions
}

// Merge appends fresh questions to the still-queued ones, keeping the queue
// ordered by descending priority.
func Merge(queued, fresh []domain.Question) []domain.Question {
	out := make([]domain.Question, 0, len(queued)+len(fresh))
	out = append(out, queued...)
	out = append(out, fresh...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

type builder struct {
	sessionID string
	// seen holds contexts already answered or queued before this call.
	seen map[string]bool
	// batch indexes questions built in this call by context.
	batch     map[string]int
	questions []domain.Question
}

func (b *builder) add(ctx domain.QuestionContext, text string, priority int, interactionCheck bool, evidence []domain.Evidence) {
	tag := ctx.Tag()
	if b.seen[tag] {
		return
	}
	if i, ok := b.batch[tag]; ok {
		q := &b.questions[i]
		if priority > q.Priority {
			q.Priority = priority
		}
		q.InteractionCheck = q.InteractionCheck || interactionCheck
		return
	}
	b.batch[tag] = len(b.questions)
	b.questions = append(b.questions, domain.Question{
		ID:               ID(b.sessionID, tag),
		Text:             text,
		Context:          tag,
		Priority:         priority,
		InteractionCheck: interactionCheck,
		Evidence:         evidence,
	})
}

func (b *builder) interaction(w domain.InteractionWarning) {
	priority := priorityNormal
	if w.Severity == domain.SeverityHigh {
		priority = priorityHigh
	}

	switch {
	case strings.HasPrefix(w.Source, "medication_"):
		med := strings.TrimPrefix(w.Source, "medication_")
		b.add(domain.NewQuestionContext(domain.ContextMedicationInteraction, med),
			fmt.Sprintf("How long have you been taking %s, and what is your current dose?", med),
			priority, true, w.Evidence)
	case strings.HasPrefix(w.Source, "condition_"):
		cond := strings.TrimPrefix(w.Source, "condition_")
		b.add(domain.NewQuestionContext(domain.ContextConditionInteraction, cond),
			fmt.Sprintf("What treatment are you currently receiving for %s?", cond),
			priority, true, w.Evidence)
	default:
		b.add(domain.NewQuestionContext(domain.ContextMedicationInteraction, w.Source),
			fmt.Sprintf("Are you already taking %s, and if so at what dose?", w.Source),
			priority, true, w.Evidence)
	}
}

func (b *builder) lifestyle(l domain.Lifestyle) {
	if l.ExerciseFrequency != nil && *l.ExerciseFrequency < minExerciseSessions {
		b.add(domain.NewQuestionContext(domain.ContextLifestyle, "exercise_barrier"),
			"Is there anything in particular that makes regular exercise difficult for you?",
			priorityNormal, false, nil)
	}
	if l.SleepHours != nil && *l.SleepHours < minSleepHours {
		b.add(domain.NewQuestionContext(domain.ContextLifestyle, "sleep_quality"),
			"How is your sleep quality? Do you wake up often or have trouble falling asleep?",
			priorityNormal, false, nil)
	}
	if l.StressLevel != nil && *l.StressLevel > maxStressLevel {
		b.add(domain.NewQuestionContext(domain.ContextLifestyle, "stress_management"),
			"What do you currently do to relieve stress?",
			priorityNormal, false, nil)
	}
}
