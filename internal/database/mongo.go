package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/go-chat-realtime/internal/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	messagesCollection      = "messages"
	conversationsCollection = "conversations"

	mongoConnectTimeout = 10 * time.Second
	maxUpdateAttempts   = 3
)

var errConcurrentUpdate = errors.New("document changed during update")

type messageDoc struct {
	Id                primitive.ObjectID  `bson:"_id"`
	ConversationId    string              `bson:"idConversation"`
	Sender            string              `bson:"sender"`
	Content           string              `bson:"content"`
	Type              types.MessageType   `bson:"type"`
	SystemType        types.SystemType    `bson:"systemType,omitempty"`
	ReferencedMessage string              `bson:"referencedMessage,omitempty"`
	Seen              bool                `bson:"seen"`
	FileUrl           string              `bson:"fileUrl,omitempty"`
	FileName          string              `bson:"fileName,omitempty"`
	FileType          string              `bson:"fileType,omitempty"`
	IsRevoked         bool                `bson:"isRevoked"`
	RevokedAt         *time.Time          `bson:"revokedAt,omitempty"`
	DeletedBy         []string            `bson:"deletedBy"`
	Reactions         map[string][]string `bson:"reactions"`
	IsForwarded       bool                `bson:"isForwarded"`
	OriginalMessage   string              `bson:"originalMessage,omitempty"`
	ForwardedBy       string              `bson:"forwardedBy,omitempty"`
	OriginalSender    string              `bson:"originalSender,omitempty"`
	IsPinned          bool                `bson:"isPinned"`
	PinnedBy          string              `bson:"pinnedBy,omitempty"`
	PinnedAt          *time.Time          `bson:"pinnedAt,omitempty"`
	CreatedAt         time.Time           `bson:"createdAt"`
	UpdatedAt         time.Time           `bson:"updatedAt"`
}

func (d messageDoc) toMessage() types.Message {
	m := types.Message{
		Id:                d.Id.Hex(),
		ConversationId:    d.ConversationId,
		Sender:            d.Sender,
		Content:           d.Content,
		Type:              d.Type,
		SystemType:        d.SystemType,
		ReferencedMessage: d.ReferencedMessage,
		Seen:              d.Seen,
		FileUrl:           d.FileUrl,
		FileName:          d.FileName,
		FileType:          d.FileType,
		IsRevoked:         d.IsRevoked,
		RevokedAt:         utcPtr(d.RevokedAt),
		DeletedBy:         d.DeletedBy,
		Reactions:         d.Reactions,
		IsForwarded:       d.IsForwarded,
		OriginalMessage:   d.OriginalMessage,
		ForwardedBy:       d.ForwardedBy,
		OriginalSender:    d.OriginalSender,
		IsPinned:          d.IsPinned,
		PinnedBy:          d.PinnedBy,
		PinnedAt:          utcPtr(d.PinnedAt),
		CreatedAt:         d.CreatedAt.UTC(),
		UpdatedAt:         d.UpdatedAt.UTC(),
	}
	if m.DeletedBy == nil {
		m.DeletedBy = []string{}
	}
	if m.Reactions == nil {
		m.Reactions = map[string][]string{}
	}
	return m
}

func fromMessage(id primitive.ObjectID, m types.Message) messageDoc {
	return messageDoc{
		Id:                id,
		ConversationId:    m.ConversationId,
		Sender:            m.Sender,
		Content:           m.Content,
		Type:              m.Type,
		SystemType:        m.SystemType,
		ReferencedMessage: m.ReferencedMessage,
		Seen:              m.Seen,
		FileUrl:           m.FileUrl,
		FileName:          m.FileName,
		FileType:          m.FileType,
		IsRevoked:         m.IsRevoked,
		RevokedAt:         m.RevokedAt,
		DeletedBy:         m.DeletedBy,
		Reactions:         m.Reactions,
		IsForwarded:       m.IsForwarded,
		OriginalMessage:   m.OriginalMessage,
		ForwardedBy:       m.ForwardedBy,
		OriginalSender:    m.OriginalSender,
		IsPinned:          m.IsPinned,
		PinnedBy:          m.PinnedBy,
		PinnedAt:          m.PinnedAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

type conversationDoc struct {
	Id          primitive.ObjectID     `bson:"_id"`
	Type        types.ConversationType `bson:"type"`
	Name        string                 `bson:"name,omitempty"`
	Avatar      string                 `bson:"avatar,omitempty"`
	Description string                 `bson:"description,omitempty"`
	LastMessage string                 `bson:"lastMessage,omitempty"`
	Members     []memberDoc            `bson:"members"`
	Admin       string                 `bson:"admin,omitempty"`
	Admin2      string                 `bson:"admin2,omitempty"`
	Permissions types.Permissions      `bson:"permissions"`
	CreatedAt   time.Time              `bson:"createdAt"`
	UpdatedAt   time.Time              `bson:"updatedAt"`
}

type memberDoc struct {
	UserId string     `bson:"idUser"`
	Role   types.Role `bson:"role"`
}

func (d conversationDoc) toConversation() types.Conversation {
	members := make([]types.Member, 0, len(d.Members))
	for _, m := range d.Members {
		members = append(members, types.Member{UserId: m.UserId, Role: m.Role})
	}

	return types.Conversation{
		Id:          d.Id.Hex(),
		Type:        d.Type,
		Name:        d.Name,
		Avatar:      d.Avatar,
		Description: d.Description,
		LastMessage: d.LastMessage,
		Members:     members,
		Admin:       d.Admin,
		Admin2:      d.Admin2,
		Permissions: d.Permissions,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
}

func memberDocs(members []types.Member) []memberDoc {
	docs := make([]memberDoc, 0, len(members))
	for _, m := range members {
		docs = append(docs, memberDoc{UserId: m.UserId, Role: m.Role})
	}
	return docs
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// MongoStore persists messages and conversations in MongoDB using hex
// ObjectIDs as public ids.
type MongoStore struct {
	client        *mongo.Client
	messages      *mongo.Collection
	conversations *mongo.Collection
}

func NewMongoStore(uri, database string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}

	db := client.Database(database)
	s := &MongoStore{
		client:        client,
		messages:      db.Collection(messagesCollection),
		conversations: db.Collection(conversationsCollection),
	}

	_, err = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "idConversation", Value: 1}, {Key: "createdAt", Value: 1}},
	})
	if err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("create message index: %w", err)
	}

	return s, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func objectId(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return oid, ErrNotFound
	}
	return oid, nil
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

func (s *MongoStore) CreateMessage(ctx context.Context, params CreateMessageParams) (types.Message, error) {
	oid := primitive.NewObjectID()
	msg := newMessage(oid.Hex(), params, now())

	if _, err := s.messages.InsertOne(ctx, fromMessage(oid, msg)); err != nil {
		return types.Message{}, err
	}

	return msg, nil
}

func (s *MongoStore) findMessage(ctx context.Context, oid primitive.ObjectID) (messageDoc, error) {
	var doc messageDoc
	err := s.messages.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	return doc, notFound(err)
}

func (s *MongoStore) GetMessageById(ctx context.Context, id string) (types.Message, error) {
	oid, err := objectId(id)
	if err != nil {
		return types.Message{}, err
	}

	doc, err := s.findMessage(ctx, oid)
	if err != nil {
		return types.Message{}, err
	}

	return doc.toMessage(), nil
}

// UpdateMessage applies the update with an optimistic check on updatedAt and
// retries when another writer got there first.
func (s *MongoStore) UpdateMessage(ctx context.Context, id string, update MessageUpdate) (types.Message, error) {
	oid, err := objectId(id)
	if err != nil {
		return types.Message{}, err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		doc, err := s.findMessage(ctx, oid)
		if err != nil {
			return types.Message{}, err
		}

		msg := doc.toMessage()
		update.Apply(&msg, now())

		res, err := s.messages.ReplaceOne(ctx,
			bson.M{"_id": oid, "updatedAt": doc.UpdatedAt},
			fromMessage(oid, msg),
		)
		if err != nil {
			return types.Message{}, err
		}
		if res.MatchedCount == 1 {
			return msg, nil
		}
	}

	return types.Message{}, errConcurrentUpdate
}

func (s *MongoStore) GetMessagesSince(ctx context.Context, conversationId string, since time.Time) ([]types.Message, error) {
	filter := bson.M{"idConversation": conversationId}
	if !since.IsZero() {
		filter["createdAt"] = bson.M{"$gt": since}
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	msgs := make([]types.Message, 0, len(docs))
	for _, d := range docs {
		msgs = append(msgs, d.toMessage())
	}

	return msgs, nil
}

func (s *MongoStore) MarkConversationSeen(ctx context.Context, conversationId string) error {
	_, err := s.messages.UpdateMany(ctx,
		bson.M{"idConversation": conversationId, "seen": false},
		bson.M{"$set": bson.M{"seen": true, "updatedAt": now()}},
	)
	return err
}

func (s *MongoStore) DeleteConversationMessages(ctx context.Context, conversationId string) error {
	_, err := s.messages.DeleteMany(ctx, bson.M{"idConversation": conversationId})
	return err
}

func (s *MongoStore) CreateConversation(ctx context.Context, params CreateConversationParams) (types.Conversation, error) {
	oid := primitive.NewObjectID()
	conv := newConversation(oid.Hex(), params, now())

	doc := conversationDoc{
		Id:          oid,
		Type:        conv.Type,
		Name:        conv.Name,
		Avatar:      conv.Avatar,
		Description: conv.Description,
		Members:     memberDocs(conv.Members),
		Admin:       conv.Admin,
		Permissions: conv.Permissions,
		CreatedAt:   conv.CreatedAt,
		UpdatedAt:   conv.UpdatedAt,
	}

	if _, err := s.conversations.InsertOne(ctx, doc); err != nil {
		return types.Conversation{}, err
	}

	return conv, nil
}

func (s *MongoStore) GetConversationById(ctx context.Context, id string) (types.Conversation, error) {
	oid, err := objectId(id)
	if err != nil {
		return types.Conversation{}, err
	}

	var doc conversationDoc
	if err := s.conversations.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return types.Conversation{}, notFound(err)
	}

	return doc.toConversation(), nil
}

func (s *MongoStore) updateConversation(ctx context.Context, id string, set bson.M) (types.Conversation, error) {
	oid, err := objectId(id)
	if err != nil {
		return types.Conversation{}, err
	}

	set["updatedAt"] = now()
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc conversationDoc
	err = s.conversations.FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": set}, opts).Decode(&doc)
	if err != nil {
		return types.Conversation{}, notFound(err)
	}

	return doc.toConversation(), nil
}

func (s *MongoStore) UpdateMembers(ctx context.Context, id string, update MembersUpdate) (types.Conversation, error) {
	return s.updateConversation(ctx, id, bson.M{
		"members": memberDocs(update.Members),
		"admin":   update.Admin,
		"admin2":  update.Admin2,
	})
}

func (s *MongoStore) UpdateLastMessage(ctx context.Context, id, messageId string) error {
	_, err := s.updateConversation(ctx, id, bson.M{"lastMessage": messageId})
	return err
}

func (s *MongoStore) UpdateGroupInfo(ctx context.Context, id string, update GroupInfoUpdate) (types.Conversation, error) {
	set := bson.M{}
	if update.Name != nil {
		set["name"] = *update.Name
	}
	if update.Avatar != nil {
		set["avatar"] = *update.Avatar
	}
	if update.Permissions != nil {
		set["permissions"] = *update.Permissions
	}

	return s.updateConversation(ctx, id, set)
}

func (s *MongoStore) DeleteConversation(ctx context.Context, id string) error {
	oid, err := objectId(id)
	if err != nil {
		return err
	}

	res, err := s.conversations.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}

	return nil
}

var _ Store = (*MongoStore)(nil)
