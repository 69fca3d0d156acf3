package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lks90/transfermarket/internal/models"
)

// Postgres implements Gateway against the store's stored procedures and
// row tables via a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Verify that Postgres implements the Gateway interface
var _ Gateway = (*Postgres)(nil)

func (p *Postgres) ServerTime(ctx context.Context) (time.Time, error) {
	var ts time.Time
	if err := p.pool.QueryRow(ctx, `SELECT get_server_time()`).Scan(&ts); err != nil {
		return time.Time{}, fmt.Errorf("failed to get server time: %w", err)
	}
	return ts, nil
}

func (p *Postgres) PlaceBid(ctx context.Context, auctionID, teamID uuid.UUID, amount int64) (BidResult, error) {
	var res BidResult
	err := p.pool.QueryRow(ctx,
		`SELECT success, message, final_price, time_extended, new_end_time
		 FROM place_bid_atomic($1, $2, $3)`,
		auctionID, teamID, amount,
	).Scan(&res.Success, &res.Message, &res.FinalPrice, &res.TimeExtended, &res.NewEndTime)
	if err != nil {
		return BidResult{}, fmt.Errorf("failed to place bid: %w", err)
	}
	if !res.Success {
		return res, &BidRejectedError{Message: res.Message}
	}
	return res, nil
}

func (p *Postgres) FinalizeAuction(ctx context.Context, auctionID uuid.UUID) (FinalizeResult, error) {
	var res FinalizeResult
	err := p.pool.QueryRow(ctx,
		`SELECT success, winner_team_id, final_amount, already_processed
		 FROM finalize_expired_auction($1)`,
		auctionID,
	).Scan(&res.Success, &res.WinnerTeamID, &res.FinalAmount, &res.AlreadyProcessed)
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("failed to finalize auction: %w", err)
	}
	return res, nil
}

func (p *Postgres) AvailableBalance(ctx context.Context, teamID uuid.UUID) (int64, error) {
	var balance int64
	if err := p.pool.QueryRow(ctx, `SELECT get_available_balance($1)`, teamID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("failed to get available balance: %w", err)
	}
	return balance, nil
}

func (p *Postgres) ReleasePendingTransactions(ctx context.Context, auctionID uuid.UUID) error {
	if _, err := p.pool.Exec(ctx, `SELECT release_pending_transactions($1)`, auctionID); err != nil {
		return fmt.Errorf("failed to release pending transactions: %w", err)
	}
	return nil
}

const auctionColumns = `id, player_id, start_price, current_bid, current_bidder, status, start_time, end_time, updated_at, meta`

func (p *Postgres) GetAuction(ctx context.Context, id uuid.UUID) (models.Auction, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id)
	a, err := scanAuction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Auction{}, fmt.Errorf("auction %s: %w", id, ErrNotFound)
		}
		return models.Auction{}, fmt.Errorf("failed to get auction: %w", err)
	}
	return a, nil
}

func (p *Postgres) ListAuctions(ctx context.Context, statuses ...models.AuctionStatus) ([]models.Auction, error) {
	filter := make([]string, len(statuses))
	for i, s := range statuses {
		filter[i] = string(s)
	}
	rows, err := p.pool.Query(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE status = ANY($1) ORDER BY end_time NULLS LAST`,
		filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list auctions: %w", err)
	}
	return collectAuctions(rows)
}

func (p *Postgres) ListFinishedSince(ctx context.Context, cutoff time.Time) ([]models.Auction, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE status = $1 AND end_time >= $2 ORDER BY end_time`,
		models.AuctionStatusFinished, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list finished auctions: %w", err)
	}
	return collectAuctions(rows)
}

func (p *Postgres) ListPendingReservations(ctx context.Context, teamID uuid.UUID) ([]models.Reservation, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT t.auction_id, t.team_id, t.amount, t.type, t.is_processed, t.created_at
		 FROM transactions t
		 JOIN auctions a ON a.id = t.auction_id
		 WHERE t.team_id = $1
		   AND t.type = $2
		   AND t.is_processed = false
		   AND a.status = $3`,
		teamID, models.TransactionTypeBidPending, models.AuctionStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending reservations: %w", err)
	}
	defer rows.Close()

	var reservations []models.Reservation
	for rows.Next() {
		var r models.Reservation
		if err := rows.Scan(&r.AuctionID, &r.TeamID, &r.Amount, &r.Type, &r.IsProcessed, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		reservations = append(reservations, r)
	}
	return reservations, rows.Err()
}

func (p *Postgres) GetTeam(ctx context.Context, teamID uuid.UUID) (models.Team, error) {
	var t models.Team
	err := p.pool.QueryRow(ctx,
		`SELECT id, name, balance, updated_at FROM teams WHERE id = $1`, teamID,
	).Scan(&t.ID, &t.Name, &t.Balance, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Team{}, fmt.Errorf("team %s: %w", teamID, ErrNotFound)
		}
		return models.Team{}, fmt.Errorf("failed to get team: %w", err)
	}
	return t, nil
}

func collectAuctions(rows pgx.Rows) ([]models.Auction, error) {
	defer rows.Close()

	var auctions []models.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auction: %w", err)
		}
		auctions = append(auctions, a)
	}
	return auctions, rows.Err()
}

func scanAuction(row pgx.Row) (models.Auction, error) {
	var a models.Auction
	err := row.Scan(
		&a.ID,
		&a.PlayerID,
		&a.StartPrice,
		&a.CurrentBid,
		&a.CurrentBidderID,
		&a.Status,
		&a.StartTime,
		&a.EndTime,
		&a.UpdatedAt,
		&a.Meta,
	)
	return a, err
}
