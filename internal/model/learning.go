package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 语法点难度。
const (
	DifficultyBeginner     = "BEGINNER"
	DifficultyIntermediate = "INTERMEDIATE"
	DifficultyAdvanced     = "ADVANCED"
)

// LearningSet 对应 'learning_sets' 表，是一次聊天练习所围绕的学习内容。
type LearningSet struct {
	// ID 是学习集的唯一标识符。
	ID string `gorm:"type:varchar(36);primaryKey" json:"id"`
	// Name 是学习集的显示名称。
	Name string `gorm:"type:varchar(255);not null" json:"name"`
	// Description 是可选的说明文字。
	Description string `gorm:"type:text" json:"description"`
	// CreatedBy 记录创建者的用户 ID。
	CreatedBy string `gorm:"type:varchar(36);index" json:"created_by"`
	// GradeLevel 为空时按 elementary 处理。
	GradeLevel string `gorm:"type:varchar(32)" json:"grade_level"`
	// Subject 为空时按 language arts 处理。
	Subject string `gorm:"type:varchar(100)" json:"subject"`
	// VocabularyItems 与 GrammarTopics 按学习集 ID 关联。
	VocabularyItems []VocabularyItem `gorm:"foreignKey:LearningSetID" json:"vocabulary_items"`
	GrammarTopics   []GrammarTopic   `gorm:"foreignKey:LearningSetID" json:"grammar_topics"`
	CreatedAt       time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

func (LearningSet) TableName() string {
	return "learning_sets"
}

func (s *LearningSet) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// VocabularyItem 对应 'vocabulary_items' 表。
type VocabularyItem struct {
	ID              string `gorm:"type:varchar(36);primaryKey" json:"id"`
	LearningSetID   string `gorm:"type:varchar(36);index;not null" json:"learning_set_id"`
	Word            string `gorm:"type:varchar(255);not null" json:"word"`
	Definition      string `gorm:"type:text;not null" json:"definition"`
	ExampleSentence string `gorm:"type:text" json:"example_sentence,omitempty"`
	PartOfSpeech    string `gorm:"type:varchar(32)" json:"part_of_speech,omitempty"`
	DifficultyLevel int    `json:"difficulty_level"`
}

func (VocabularyItem) TableName() string {
	return "vocabulary_items"
}

func (v *VocabularyItem) BeforeCreate(tx *gorm.DB) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	return nil
}

// GrammarTopic 对应 'grammar_topics' 表。
type GrammarTopic struct {
	ID              string   `gorm:"type:varchar(36);primaryKey" json:"id"`
	LearningSetID   string   `gorm:"type:varchar(36);index;not null" json:"learning_set_id"`
	Name            string   `gorm:"type:varchar(255);not null" json:"name"`
	Description     string   `gorm:"type:text" json:"description"`
	RuleExplanation string   `gorm:"type:text" json:"rule_explanation,omitempty"`
	Examples        []string `gorm:"type:text;serializer:json" json:"examples,omitempty"`
	Difficulty      string   `gorm:"type:varchar(16);default:BEGINNER" json:"difficulty"`
}

func (GrammarTopic) TableName() string {
	return "grammar_topics"
}

func (g *GrammarTopic) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return nil
}
