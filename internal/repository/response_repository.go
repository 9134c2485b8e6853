package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-quiz/internal/model"
)

// responseSortColumns whitelists ORDER BY targets. Never interpolate user input directly.
var responseSortColumns = map[model.ResponseSortField]string{
	model.SortByCreatedAt:      "created_at",
	model.SortByFullName:       "full_name",
	model.SortBySchoolName:     "school_name",
	model.SortByScore:          "score",
	model.SortByTimeSpent:      "time_spent_seconds",
	model.SortByTotalQuestions: "total_questions",
}

// ResponseRepository handles stored exam results.
type ResponseRepository struct {
	pool *pgxpool.Pool
}

// NewResponseRepository creates a new ResponseRepository.
func NewResponseRepository(pool *pgxpool.Pool) *ResponseRepository {
	return &ResponseRepository{pool: pool}
}

// Insert stores one result. A record for an already stored session is ignored,
// so redelivery from the queue is harmless.
func (r *ResponseRepository) Insert(ctx context.Context, rec model.ResultRecord) error {
	answers, err := json.Marshal(rec.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO responses (session_id, full_name, school_name, answers, score, total_questions, time_spent_seconds)
		 VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7)
		 ON CONFLICT (session_id) DO NOTHING`,
		rec.SessionID, rec.FullName, rec.SchoolName, answers, rec.Score, rec.TotalQuestions, rec.TimeSpentSeconds,
	)
	return err
}

// InsertBatch stores many results in one statement using UNNEST.
func (r *ResponseRepository) InsertBatch(ctx context.Context, recs []model.ResultRecord) error {
	if len(recs) == 0 {
		return nil
	}

	n := len(recs)
	sessionIDs := make([]uuid.UUID, 0, n)
	names := make([]string, 0, n)
	schools := make([]string, 0, n)
	answers := make([]string, 0, n)
	scores := make([]int32, 0, n)
	totals := make([]int32, 0, n)
	spent := make([]int32, 0, n)

	for _, rec := range recs {
		raw, err := json.Marshal(rec.Answers)
		if err != nil {
			return fmt.Errorf("marshal answers for %s: %w", rec.SessionID, err)
		}
		sessionIDs = append(sessionIDs, rec.SessionID)
		names = append(names, rec.FullName)
		schools = append(schools, rec.SchoolName)
		answers = append(answers, string(raw))
		scores = append(scores, int32(rec.Score))
		totals = append(totals, int32(rec.TotalQuestions))
		spent = append(spent, int32(rec.TimeSpentSeconds))
	}

	query := `
		INSERT INTO responses (session_id, full_name, school_name, answers, score, total_questions, time_spent_seconds)
		SELECT u.session_id, u.full_name, u.school_name, u.answers::jsonb, u.score, u.total_questions, u.time_spent_seconds
		FROM UNNEST(
			$1::uuid[],
			$2::text[],
			$3::text[],
			$4::text[],
			$5::int[],
			$6::int[],
			$7::int[]
		) AS u (session_id, full_name, school_name, answers, score, total_questions, time_spent_seconds)
		ON CONFLICT (session_id) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query, sessionIDs, names, schools, answers, scores, totals, spent)
	return err
}

// GetBySessionID retrieves the stored result for a session.
func (r *ResponseRepository) GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*model.Response, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, session_id, full_name, school_name, answers, score, total_questions, time_spent_seconds, created_at
		 FROM responses WHERE session_id = $1`, sessionID)
	return scanResponse(row)
}

// List returns one page of results matching q along with the total match count.
// q must already be normalized.
func (r *ResponseRepository) List(ctx context.Context, q model.ListResponsesQuery) ([]model.Response, int, error) {
	where, args := responseFilter(q.Search)

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM responses"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT id, session_id, full_name, school_name, answers, score, total_questions, time_spent_seconds, created_at
		FROM responses` + where + responseOrder(q) +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, q.PerPage, (q.Page-1)*q.PerPage)

	items, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListAll returns every result matching the search and sort, for export.
func (r *ResponseRepository) ListAll(ctx context.Context, q model.ListResponsesQuery) ([]model.Response, error) {
	where, args := responseFilter(q.Search)
	query := `SELECT id, session_id, full_name, school_name, answers, score, total_questions, time_spent_seconds, created_at
		FROM responses` + where + responseOrder(q)
	return r.query(ctx, query, args...)
}

func (r *ResponseRepository) query(ctx context.Context, query string, args ...any) ([]model.Response, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Response, 0)
	for rows.Next() {
		item, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func scanResponse(row pgx.Row) (*model.Response, error) {
	var (
		res     model.Response
		answers []byte
	)
	if err := row.Scan(
		&res.ID, &res.SessionID, &res.FullName, &res.SchoolName, &answers,
		&res.Score, &res.TotalQuestions, &res.TimeSpentSeconds, &res.CreatedAt,
	); err != nil {
		return nil, err
	}
	res.Answers = model.AnswerMap{}
	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &res.Answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
	}
	return &res, nil
}

func responseFilter(search string) (string, []any) {
	if search == "" {
		return "", nil
	}
	return ` WHERE full_name ILIKE $1 ESCAPE '\' OR school_name ILIKE $1 ESCAPE '\'`,
		[]any{"%" + likeEscaper.Replace(search) + "%"}
}

// likeEscaper makes LIKE wildcards in user input match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func responseOrder(q model.ListResponsesQuery) string {
	col, ok := responseSortColumns[q.SortField]
	if !ok {
		col = "created_at"
	}
	dir := "ASC"
	if q.SortDesc {
		dir = "DESC"
	}
	// id breaks ties so pagination is stable.
	return fmt.Sprintf(" ORDER BY %s %s, id %s", col, dir, dir)
}
