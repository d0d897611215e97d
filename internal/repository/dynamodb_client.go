package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"career-compass/internal/domain"
)

const (
	skConversation = "CONVERSATION"
	skQuizPrefix   = "QUIZ#"
	ttlDuration    = 90 * 24 * time.Hour // 90-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Client wraps a DynamoDB table holding one conversation document and one
// quiz document per stream for every user.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// userPK returns the DynamoDB partition key for a user.
func userPK(userID string) string {
	return "USER#" + userID
}

func quizSK(stream domain.Stream) string {
	return skQuizPrefix + string(stream)
}

// ttlValue returns a Unix timestamp 90 days after now.
func ttlValue(now time.Time) int64 {
	return now.Add(ttlDuration).Unix()
}

func (c *Client) key(userID, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func (c *Client) getItem(ctx context.Context, userID, sk string) (map[string]types.AttributeValue, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.key(userID, sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	return out.Item, nil
}

// ReadConversation returns the stored transcript for userID. The bool is false
// when no document exists.
func (c *Client) ReadConversation(ctx context.Context, userID string) ([]domain.Turn, bool, error) {
	item, err := c.getItem(ctx, userID, skConversation)
	if err != nil {
		return nil, false, fmt.Errorf("repository: ReadConversation get item: %w", err)
	}
	if item == nil {
		return nil, false, nil
	}

	list, err := listAttr(item, "messages")
	if err != nil {
		return nil, false, fmt.Errorf("repository: ReadConversation decode messages: %w", err)
	}
	turns := make([]domain.Turn, 0, len(list))
	for i, v := range list {
		m, ok := v.(*types.AttributeValueMemberM)
		if !ok {
			return nil, false, fmt.Errorf("repository: ReadConversation: message %d is not a map", i)
		}
		turn, err := itemToTurn(m.Value)
		if err != nil {
			return nil, false, fmt.Errorf("repository: ReadConversation message %d: %w", i, err)
		}
		turns = append(turns, turn)
	}
	return turns, true, nil
}

// WriteConversation replaces the stored transcript for userID.
func (c *Client) WriteConversation(ctx context.Context, userID string, turns []domain.Turn) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("repository: WriteConversation: user id is required")
	}
	messages := make([]types.AttributeValue, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, &types.AttributeValueMemberM{Value: turnItem(t)})
	}

	now := c.now().UTC()
	item := c.key(userID, skConversation)
	item["userId"] = &types.AttributeValueMemberS{Value: userID}
	item["messages"] = &types.AttributeValueMemberL{Value: messages}
	item["updatedAt"] = &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)}
	item["ttl"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttlValue(now))}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: WriteConversation: %w", err)
	}
	return nil
}

// ReadQuiz returns the stored quiz for userID and stream.
func (c *Client) ReadQuiz(ctx context.Context, userID string, stream domain.Stream) (domain.QuizRecord, bool, error) {
	item, err := c.getItem(ctx, userID, quizSK(stream))
	if err != nil {
		return domain.QuizRecord{}, false, fmt.Errorf("repository: ReadQuiz get item: %w", err)
	}
	if item == nil {
		return domain.QuizRecord{}, false, nil
	}

	rec := domain.QuizRecord{Stream: stream}
	list, err := listAttr(item, "answers")
	if err != nil {
		return domain.QuizRecord{}, false, fmt.Errorf("repository: ReadQuiz decode answers: %w", err)
	}
	for i, v := range list {
		m, ok := v.(*types.AttributeValueMemberM)
		if !ok {
			return domain.QuizRecord{}, false, fmt.Errorf("repository: ReadQuiz: answer %d is not a map", i)
		}
		q, err := strAttr(m.Value, "question")
		if err != nil {
			return domain.QuizRecord{}, false, fmt.Errorf("repository: ReadQuiz answer %d: %w", i, err)
		}
		a, err := strAttr(m.Value, "answer")
		if err != nil {
			return domain.QuizRecord{}, false, fmt.Errorf("repository: ReadQuiz answer %d: %w", i, err)
		}
		rec.Answers = rec.Answers.Set(q, a)
	}
	rec.Result, _ = strAttr(item, "result") // allow empty
	return rec, true, nil
}

// WriteQuiz replaces the stored quiz for userID and rec.Stream.
func (c *Client) WriteQuiz(ctx context.Context, userID string, rec domain.QuizRecord) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("repository: WriteQuiz: user id is required")
	}
	if _, err := domain.ParseStream(string(rec.Stream)); err != nil {
		return fmt.Errorf("repository: WriteQuiz: %w", err)
	}
	answers := make([]types.AttributeValue, 0, len(rec.Answers))
	for _, a := range rec.Answers {
		answers = append(answers, &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"question": &types.AttributeValueMemberS{Value: a.Question},
			"answer":   &types.AttributeValueMemberS{Value: a.Answer},
		}})
	}

	now := c.now().UTC()
	item := c.key(userID, quizSK(rec.Stream))
	item["userId"] = &types.AttributeValueMemberS{Value: userID}
	item["stream"] = &types.AttributeValueMemberS{Value: string(rec.Stream)}
	item["answers"] = &types.AttributeValueMemberL{Value: answers}
	item["result"] = &types.AttributeValueMemberS{Value: rec.Result}
	item["updatedAt"] = &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)}
	item["ttl"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttlValue(now))}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: WriteQuiz: %w", err)
	}
	return nil
}

func turnItem(t domain.Turn) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"sequence":  &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Sequence, 10)},
		"role":      &types.AttributeValueMemberS{Value: string(t.Role)},
		"content":   &types.AttributeValueMemberS{Value: t.Content},
		"createdAt": &types.AttributeValueMemberS{Value: t.CreatedAt.UTC().Format(time.RFC3339Nano)},
	}
	if a := t.Attachment; a != nil {
		att := map[string]types.AttributeValue{
			"name": &types.AttributeValueMemberS{Value: a.Name},
		}
		if a.MediaType != "" {
			att["mediaType"] = &types.AttributeValueMemberS{Value: a.MediaType}
		}
		if a.Locator != "" {
			att["locator"] = &types.AttributeValueMemberS{Value: a.Locator}
		}
		item["attachment"] = &types.AttributeValueMemberM{Value: att}
	}
	return item
}

// itemToTurn converts a stored message map to a Turn. Messages written by the
// mentor backend itself carry only role and content, with "model" as the
// assistant role and a "file" map ({name, type, url}) for uploads.
func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	roleName, err := strAttr(item, "role")
	if err != nil {
		return domain.Turn{}, err
	}
	role, err := domain.ParseRole(roleName)
	if err != nil {
		return domain.Turn{}, err
	}
	content, _ := strAttr(item, "content") // allow empty

	turn := domain.Turn{Role: role, Content: content}
	if _, ok := item["sequence"]; ok {
		seq, err := intAttr(item, "sequence")
		if err != nil {
			return domain.Turn{}, err
		}
		turn.Sequence = int64(seq)
	}
	if raw, _ := strAttr(item, "createdAt"); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return domain.Turn{}, fmt.Errorf("repository: parse createdAt: %w", err)
		}
		turn.CreatedAt = ts
	}

	attVal, ok := item["attachment"]
	if !ok {
		attVal, ok = item["file"]
	}
	if ok {
		m, isMap := attVal.(*types.AttributeValueMemberM)
		if !isMap {
			return domain.Turn{}, errors.New("repository: attachment is not a map")
		}
		turn.Attachment = itemToAttachment(m.Value)
	}
	return turn, nil
}

func itemToAttachment(item map[string]types.AttributeValue) *domain.Attachment {
	a := &domain.Attachment{}
	a.Name, _ = strAttr(item, "name")
	a.MediaType, _ = strAttr(item, "mediaType")
	if a.MediaType == "" {
		a.MediaType, _ = strAttr(item, "type")
	}
	a.Locator, _ = strAttr(item, "locator")
	if a.Locator == "" {
		a.Locator, _ = strAttr(item, "url")
	}
	return a
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

// listAttr returns the list stored under key. A missing attribute or a NULL
// is an empty list.
func listAttr(item map[string]types.AttributeValue, key string) ([]types.AttributeValue, error) {
	v, ok := item[key]
	if !ok {
		return nil, nil
	}
	switch l := v.(type) {
	case *types.AttributeValueMemberL:
		return l.Value, nil
	case *types.AttributeValueMemberNULL:
		return nil, nil
	default:
		return nil, fmt.Errorf("repository: attribute %q is not a list", key)
	}
}
