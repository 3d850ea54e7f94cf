package tutor

import (
	"fmt"
	"hash/fnv"
	"strings"

	"lingua-chat-go/internal/model"
	"lingua-chat-go/pkg/llm"
)

// LearningContext 是注入提示词的学习内容摘要。
type LearningContext struct {
	VocabularyWords string
	GrammarTopics   string
	GradeLevel      string
	Subject         string
}

// FormatLearningContext 把学习集整理为提示词所需的文本，缺省字段使用通用描述。
func FormatLearningContext(set *model.LearningSet) LearningContext {
	lc := LearningContext{
		VocabularyWords: "General vocabulary practice",
		GrammarTopics:   "General grammar practice",
		GradeLevel:      "elementary",
		Subject:         "language arts",
	}
	if set == nil {
		return lc
	}

	var vocab []string
	for _, item := range set.VocabularyItems {
		entry := fmt.Sprintf("%s: %s", item.Word, item.Definition)
		if item.ExampleSentence != "" {
			entry += fmt.Sprintf(" (Example: %s)", item.ExampleSentence)
		}
		vocab = append(vocab, entry)
	}
	if len(vocab) > 0 {
		lc.VocabularyWords = strings.Join(vocab, "; ")
	}

	var grammar []string
	for _, topic := range set.GrammarTopics {
		entry := fmt.Sprintf("%s: %s", topic.Name, topic.Description)
		if topic.RuleExplanation != "" {
			entry += fmt.Sprintf(" (Rule: %s)", topic.RuleExplanation)
		}
		grammar = append(grammar, entry)
	}
	if len(grammar) > 0 {
		lc.GrammarTopics = strings.Join(grammar, "; ")
	}

	if set.GradeLevel != "" {
		lc.GradeLevel = set.GradeLevel
	}
	if set.Subject != "" {
		lc.Subject = set.Subject
	}
	return lc
}

const systemTemplate = `You are an AI language tutor helping a %[1]s student practice %[2]s.
Your role is to engage in natural, educational conversations that help the student practice vocabulary and grammar.

LEARNING OBJECTIVES:
- Vocabulary to practice: %[3]s
- Grammar topics to focus on: %[4]s
- Student's current level: %[1]s

CONVERSATION GUIDELINES:
1. Keep responses conversational and age-appropriate for %[1]s level
2. Naturally incorporate target vocabulary words when possible
3. Use grammar structures that match the learning objectives
4. Provide gentle corrections when the student makes mistakes
5. Acknowledge and reinforce correct vocabulary usage
6. Ask engaging questions to keep the conversation flowing
7. Stay within educational topics appropriate for the student's level

CORRECTION STYLE:
- Be encouraging and positive
- Correct mistakes gently within the conversation flow
- Explain grammar rules simply when needed
- Celebrate correct usage of target vocabulary

Remember: You're having a conversation, not giving a lesson. Make learning feel natural and fun!`

const analysisTemplate = `You are an expert language tutor analyzing a %[1]s student's message.
Provide detailed but gentle feedback that encourages learning.

Student message: %[2]q
Target vocabulary: %[3]s
Grammar focus: %[4]s
Student level: %[1]s

Analyze the message and respond with a single JSON object of this shape:
{
  "corrections": [
    {
      "original": "incorrect text",
      "corrected": "correct text",
      "explanation": "gentle, encouraging explanation suitable for %[1]s",
      "grammar_rule": "relevant grammar rule explained simply",
      "severity": "minor|moderate|major",
      "learning_tip": "helpful tip for remembering this rule"
    }
  ],
  "vocabulary_used": [
    {
      "word": "vocabulary word used",
      "used_correctly": true,
      "context": "how it was used in the sentence",
      "definition_match": true,
      "improvement_suggestion": "suggestion if used incorrectly"
    }
  ],
  "encouragement": "specific positive feedback about what they did well",
  "difficulty_assessment": "appropriate|too_easy|too_hard",
  "learning_progress": {
    "grammar_concepts_demonstrated": ["list of concepts shown"],
    "vocabulary_level": "below|at|above grade level",
    "areas_for_improvement": ["specific areas to work on"]
  }
}

Guidelines:
- Be encouraging and positive in all feedback
- Explain grammar rules in age-appropriate language
- Celebrate correct usage before mentioning errors
- Provide specific, actionable improvement suggestions
- If no errors found, still provide encouragement and acknowledge good usage`

// replyMessages 组装一次回复的消息序列：系统提示、最近的历史、当前学生消息。
func replyMessages(text string, lc LearningContext, history []model.ChatMessage, limit int) []llm.Message {
	msgs := []llm.Message{{
		Role:    llm.RoleSystem,
		Content: fmt.Sprintf(systemTemplate, lc.GradeLevel, lc.Subject, lc.VocabularyWords, lc.GrammarTopics),
	}}
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	for _, m := range history {
		role := llm.RoleAssistant
		if m.Sender == model.SenderUser {
			role = llm.RoleUser
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: "Student message: " + text})
}

func analysisMessages(text string, lc LearningContext) []llm.Message {
	return []llm.Message{{
		Role:    llm.RoleUser,
		Content: fmt.Sprintf(analysisTemplate, lc.GradeLevel, text, lc.VocabularyWords, lc.GrammarTopics),
	}}
}

var starterTemplates = []string{
	"Hi! I'm excited to practice %s with you today. What would you like to talk about?",
	"Hello! Let's have a fun conversation while practicing your %s skills. How was your day?",
	"Welcome! I'm here to help you practice %s. What's something interesting you learned recently?",
	"Hi there! Ready to practice some %s? Tell me about something you enjoy doing.",
	"Hello! Let's chat and practice your language skills. What's your favorite subject in school?",
}

// Starter 返回开场白。同一学习集总是得到同一句。
func (e *LLMEngine) Starter(set *model.LearningSet) string {
	lc := FormatLearningContext(set)
	id := ""
	if set != nil {
		id = set.ID
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	tpl := starterTemplates[h.Sum32()%uint32(len(starterTemplates))]
	if strings.Contains(tpl, "%s") {
		return fmt.Sprintf(tpl, lc.Subject)
	}
	return tpl
}
