package service

import (
	"context"
	"fmt"
	"lingua-chat-go/pkg/log"
)

// ObjectStore 是归档所需的对象存储能力，由 storage.ObjectStore 实现。
type ObjectStore interface {
	PutJSON(ctx context.Context, objectName string, v interface{}) error
	Exists(ctx context.Context, objectName string) (bool, error)
	PresignedURL(ctx context.Context, objectName string) (string, error)
}

// TranscriptObjectName 返回会话记录在存储桶中的路径。
func TranscriptObjectName(userID, sessionID string) string {
	return fmt.Sprintf("transcripts/%s/%s.json", userID, sessionID)
}

type objectTranscriptArchive struct {
	store ObjectStore
}

// NewTranscriptArchive 基于对象存储创建会话记录归档。
func NewTranscriptArchive(store ObjectStore) TranscriptArchive {
	return &objectTranscriptArchive{store: store}
}

func (a *objectTranscriptArchive) Save(ctx context.Context, t Transcript) error {
	name := TranscriptObjectName(t.Session.UserID, t.Session.ID)
	if err := a.store.PutJSON(ctx, name, t); err != nil {
		return err
	}
	log.Infof("[TranscriptArchive] 已上传 %s", name)
	return nil
}

func (a *objectTranscriptArchive) URL(ctx context.Context, userID, sessionID string) (string, error) {
	name := TranscriptObjectName(userID, sessionID)
	ok, err := a.store.Exists(ctx, name)
	if err != nil {
		return "", err
	}
	if !ok {
		// 结束后的后台上传尚未完成
		return "", ErrTranscriptNotReady
	}
	return a.store.PresignedURL(ctx, name)
}
