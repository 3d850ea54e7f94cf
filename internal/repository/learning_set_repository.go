package repository

import (
	"context"
	"lingua-chat-go/internal/model"

	"gorm.io/gorm"
)

// LearningSetRepository 读取聊天练习所需的学习内容。
type LearningSetRepository interface {
	Create(ctx context.Context, set *model.LearningSet) error
	// FindByID 连同词汇和语法点一起加载，不存在时返回 gorm.ErrRecordNotFound。
	FindByID(ctx context.Context, id string) (*model.LearningSet, error)
	Exists(ctx context.Context, id string) (bool, error)
}

type learningSetRepository struct {
	db *gorm.DB
}

func NewLearningSetRepository(db *gorm.DB) LearningSetRepository {
	return &learningSetRepository{db: db}
}

func (r *learningSetRepository) Create(ctx context.Context, set *model.LearningSet) error {
	return r.db.WithContext(ctx).Create(set).Error
}

func (r *learningSetRepository) FindByID(ctx context.Context, id string) (*model.LearningSet, error) {
	var set model.LearningSet
	err := r.db.WithContext(ctx).
		Preload("VocabularyItems", func(db *gorm.DB) *gorm.DB { return db.Order("word") }).
		Preload("GrammarTopics", func(db *gorm.DB) *gorm.DB { return db.Order("name") }).
		Where("id = ?", id).
		First(&set).Error
	if err != nil {
		return nil, err
	}
	return &set, nil
}

func (r *learningSetRepository) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.LearningSet{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
