package database

import (
	"database/sql"
	"fmt"
	"time"
)

const conversationQuery = `SELECT c.id, c.external_id, c.user_a, ua.username, c.user_b, ub.username, ` +
	`c.last_message_at, c.created_at, c.updated_at FROM conversations c ` +
	`JOIN accounts ua ON ua.id = c.user_a ` +
	`JOIN accounts ub ON ub.id = c.user_b `

func (db *PgMarketRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4) RETURNING id, username, email, created_at, updated_at",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (db *PgMarketRepository) UpdateAccount(params UpdateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"UPDATE accounts SET username = $2, password_hash = $3, updated_at = $4 "+
			"WHERE id = $1 RETURNING id, username, email, created_at, updated_at",
		params.UserId,
		params.Username,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (db *PgMarketRepository) GetAccountById(id int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgMarketRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash, created_at, updated_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgMarketRepository) CreateService(params CreateServiceParams) (Service, error) {
	res := db.conn.QueryRow(
		"INSERT INTO services (external_id, title, description, category, rate_cents, provider_id, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $7) "+
			"RETURNING id, external_id, title, description, category, rate_cents, provider_id, created_at, updated_at",
		params.ExternalId,
		params.Title,
		params.Description,
		params.Category,
		params.RateCents,
		params.ProviderId,
		time.Now().UTC(),
	)

	var svc Service
	err := res.Scan(
		&svc.Id,
		&svc.ExternalId,
		&svc.Title,
		&svc.Description,
		&svc.Category,
		&svc.RateCents,
		&svc.ProviderId,
		&svc.CreatedAt,
		&svc.UpdatedAt,
	)

	return svc, err
}

func (db *PgMarketRepository) GetServiceByExternalId(externalId string) (Service, error) {
	row := db.conn.QueryRow(
		"SELECT s.id, s.external_id, s.title, s.description, s.category, s.rate_cents, "+
			"s.provider_id, a.username, s.created_at, s.updated_at FROM services s "+
			"JOIN accounts a ON s.provider_id = a.id WHERE s.external_id = $1 LIMIT 1",
		externalId,
	)

	var svc Service
	err := row.Scan(
		&svc.Id,
		&svc.ExternalId,
		&svc.Title,
		&svc.Description,
		&svc.Category,
		&svc.RateCents,
		&svc.ProviderId,
		&svc.ProviderName,
		&svc.CreatedAt,
		&svc.UpdatedAt,
	)

	return svc, err
}

func (db *PgMarketRepository) ListServices(category string, limit int) ([]Service, error) {
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT s.id, s.external_id, s.title, s.description, s.category, s.rate_cents, " +
		"s.provider_id, a.username, s.created_at, s.updated_at FROM services s " +
		"JOIN accounts a ON s.provider_id = a.id "
	args := []any{limit}
	if category != "" {
		query += "WHERE s.category = $2 "
		args = append(args, category)
	}
	query += "ORDER BY s.created_at DESC LIMIT $1"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services = make([]Service, 0, limit)
	for rows.Next() {
		var svc Service
		if err = rows.Scan(
			&svc.Id,
			&svc.ExternalId,
			&svc.Title,
			&svc.Description,
			&svc.Category,
			&svc.RateCents,
			&svc.ProviderId,
			&svc.ProviderName,
			&svc.CreatedAt,
			&svc.UpdatedAt,
		); err != nil {
			break
		}

		services = append(services, svc)
	}

	return services, err
}

func (db *PgMarketRepository) DeleteService(id int) error {
	_, err := db.conn.Exec("DELETE FROM services WHERE id = $1", id)
	return err
}

func (db *PgMarketRepository) CreateComment(params CreateCommentParams) (Comment, error) {
	var parentId sql.NullInt64
	if params.ParentId > 0 {
		parentId = sql.NullInt64{Int64: int64(params.ParentId), Valid: true}
	}

	res := db.conn.QueryRow(
		"INSERT INTO comments (external_id, service_id, author_id, parent_id, content, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at",
		params.ExternalId,
		params.ServiceId,
		params.AuthorId,
		parentId,
		params.Content,
		time.Now().UTC(),
	)

	comment := Comment{
		ExternalId: params.ExternalId,
		ServiceId:  params.ServiceId,
		AuthorId:   params.AuthorId,
		ParentId:   params.ParentId,
		Content:    params.Content,
	}
	if err := res.Scan(&comment.Id, &comment.CreatedAt); err != nil {
		return Comment{}, err
	}

	err := db.conn.QueryRow(
		"SELECT username FROM accounts WHERE id = $1 LIMIT 1", params.AuthorId,
	).Scan(&comment.AuthorName)

	return comment, err
}

func (db *PgMarketRepository) GetCommentByExternalId(externalId string) (Comment, error) {
	row := db.conn.QueryRow(
		"SELECT c.id, c.external_id, c.service_id, c.author_id, a.username, "+
			"COALESCE(c.parent_id, 0), COALESCE(p.external_id, ''), c.content, c.created_at "+
			"FROM comments c JOIN accounts a ON c.author_id = a.id "+
			"LEFT JOIN comments p ON c.parent_id = p.id WHERE c.external_id = $1 LIMIT 1",
		externalId,
	)

	var comment Comment
	err := row.Scan(
		&comment.Id,
		&comment.ExternalId,
		&comment.ServiceId,
		&comment.AuthorId,
		&comment.AuthorName,
		&comment.ParentId,
		&comment.ParentExternalId,
		&comment.Content,
		&comment.CreatedAt,
	)

	return comment, err
}

// GetCommentsByServiceId returns the flat, unstructured comment batch
// for a service in storage order. Threading happens in memory.
func (db *PgMarketRepository) GetCommentsByServiceId(serviceId int) ([]Comment, error) {
	rows, err := db.conn.Query(
		"SELECT c.id, c.external_id, c.service_id, c.author_id, a.username, "+
			"COALESCE(c.parent_id, 0), COALESCE(p.external_id, ''), c.content, c.created_at "+
			"FROM comments c JOIN accounts a ON c.author_id = a.id "+
			"LEFT JOIN comments p ON c.parent_id = p.id "+
			"WHERE c.service_id = $1 ORDER BY c.created_at ASC, c.id ASC",
		serviceId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments = make([]Comment, 0)
	for rows.Next() {
		var comment Comment
		if err = rows.Scan(
			&comment.Id,
			&comment.ExternalId,
			&comment.ServiceId,
			&comment.AuthorId,
			&comment.AuthorName,
			&comment.ParentId,
			&comment.ParentExternalId,
			&comment.Content,
			&comment.CreatedAt,
		); err != nil {
			break
		}

		comments = append(comments, comment)
	}

	return comments, err
}

// canonicalPair orders an unordered participant pair so that both
// argument orders address the same conversation row. A user cannot
// converse with themselves.
func canonicalPair(a, b int) (int, int, error) {
	if a == b {
		return 0, 0, fmt.Errorf("conversation requires two distinct participants")
	}
	if a > b {
		a, b = b, a
	}
	return a, b, nil
}

// GetOrCreateConversation upserts the conversation for an unordered
// participant pair. The pair is canonicalized before the write so the
// unique constraint holds regardless of argument order, and the
// conflict branch still returns the existing row.
func (db *PgMarketRepository) GetOrCreateConversation(userA, userB int, externalId string) (Conversation, error) {
	userA, userB, err := canonicalPair(userA, userB)
	if err != nil {
		return Conversation{}, err
	}

	var id int
	err = db.conn.QueryRow(
		"INSERT INTO conversations (external_id, user_a, user_b, last_message_at, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4, $4) "+
			"ON CONFLICT (user_a, user_b) DO UPDATE SET updated_at = conversations.updated_at "+
			"RETURNING id",
		externalId,
		userA,
		userB,
		time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return Conversation{}, err
	}

	return db.getConversation("WHERE c.id = $1", id)
}

func (db *PgMarketRepository) GetConversationByExternalId(externalId string) (Conversation, error) {
	return db.getConversation("WHERE c.external_id = $1", externalId)
}

func (db *PgMarketRepository) getConversation(where string, arg any) (Conversation, error) {
	row := db.conn.QueryRow(conversationQuery+where+" LIMIT 1", arg)

	var conv Conversation
	err := row.Scan(
		&conv.Id,
		&conv.ExternalId,
		&conv.UserA,
		&conv.UserAName,
		&conv.UserB,
		&conv.UserBName,
		&conv.LastMessageAt,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)

	return conv, err
}

func (db *PgMarketRepository) ListConversations(accountId int) ([]Conversation, error) {
	rows, err := db.conn.Query(
		conversationQuery+"WHERE c.user_a = $1 OR c.user_b = $1 ORDER BY c.last_message_at DESC",
		accountId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []Conversation
	for rows.Next() {
		var conv Conversation
		if err = rows.Scan(
			&conv.Id,
			&conv.ExternalId,
			&conv.UserA,
			&conv.UserAName,
			&conv.UserB,
			&conv.UserBName,
			&conv.LastMessageAt,
			&conv.CreatedAt,
			&conv.UpdatedAt,
		); err != nil {
			break
		}

		conversations = append(conversations, conv)
	}

	return conversations, err
}

func (db *PgMarketRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	msg := Message{
		ExternalId:     params.ExternalId,
		ConversationId: params.ConversationId,
		SenderId:       params.SenderId,
		Body:           params.Body,
	}
	err = tx.QueryRow(
		"INSERT INTO messages (external_id, conversation_id, sender_id, body, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at",
		params.ExternalId,
		params.ConversationId,
		params.SenderId,
		params.Body,
		createdAt,
	).Scan(&msg.Id, &msg.CreatedAt)
	if err != nil {
		return Message{}, err
	}

	_, err = tx.Exec(
		"UPDATE conversations SET last_message_at = $1, updated_at = $1 WHERE id = $2",
		msg.CreatedAt,
		params.ConversationId,
	)
	if err != nil {
		return Message{}, err
	}

	err = tx.QueryRow(
		"SELECT username FROM accounts WHERE id = $1 LIMIT 1", params.SenderId,
	).Scan(&msg.SenderName)
	if err != nil {
		return Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return Message{}, err
	}

	return msg, nil
}

// GetConversationMessages returns the full history in ascending
// created_at order. Unbounded: per-conversation volume is assumed small.
func (db *PgMarketRepository) GetConversationMessages(conversationId int) ([]Message, error) {
	rows, err := db.conn.Query(
		"SELECT m.id, m.external_id, m.conversation_id, m.sender_id, a.username, m.body, m.created_at "+
			"FROM messages m JOIN accounts a ON m.sender_id = a.id "+
			"WHERE m.conversation_id = $1 ORDER BY m.created_at ASC, m.id ASC",
		conversationId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows, 0)
}

// GetMessages returns a window of history bounded by message row ids,
// still in ascending order.
func (db *PgMarketRepository) GetMessages(conversationId, since, before, limit int) ([]Message, error) {
	var upper, lower int = 1<<31 - 1, 0
	if before > 0 {
		upper = before - 1
	}

	if since > 0 {
		lower = since
	}

	if limit <= 0 {
		limit = 50
	}

	rows, err := db.conn.Query(
		"SELECT m.id, m.external_id, m.conversation_id, m.sender_id, a.username, m.body, m.created_at "+
			"FROM messages m JOIN accounts a ON m.sender_id = a.id "+
			"WHERE m.conversation_id = $1 AND m.id BETWEEN $2 AND $3 "+
			"ORDER BY m.created_at ASC, m.id ASC LIMIT $4",
		conversationId,
		lower,
		upper,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows, limit)
}

func scanMessages(rows *sql.Rows, sizeHint int) ([]Message, error) {
	var err error
	var messages = make([]Message, 0, sizeHint)
	for rows.Next() {
		var msg Message
		if err = rows.Scan(
			&msg.Id,
			&msg.ExternalId,
			&msg.ConversationId,
			&msg.SenderId,
			&msg.SenderName,
			&msg.Body,
			&msg.CreatedAt,
		); err != nil {
			break
		}

		messages = append(messages, msg)
	}

	return messages, err
}
