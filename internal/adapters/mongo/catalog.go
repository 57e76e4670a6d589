package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/showgrid/booking-engine/internal/domain"
	"github.com/showgrid/booking-engine/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// CatalogRepository reads showtime seat maps maintained by the catalog
// service. This engine never writes to it.
type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("showtimes"),
		logger: logger,
	}
}

type ShowtimeDoc struct {
	ID         uuid.UUID `bson:"_id"`
	MovieTitle string    `bson:"movie_title"`
	TheaterID  string    `bson:"theater_id"`
	Screen     string    `bson:"screen"`
	StartsAt   time.Time `bson:"starts_at"`
	Seats      []SeatDoc `bson:"seats"`
}

type SeatDoc struct {
	SeatID string `bson:"seat_id"`
	Tier   string `bson:"tier"`
	Price  int64  `bson:"price"`
}

func (c *CatalogRepository) GetShowtimeSeatMap(ctx context.Context, showtimeID uuid.UUID) (*domain.ShowtimeSeatMap, error) {
	var doc ShowtimeDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": showtimeID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		c.logger.Error("failed to get showtime", err)
		return nil, err
	}

	seatMap := &domain.ShowtimeSeatMap{
		ShowtimeID: doc.ID,
		StartsAt:   doc.StartsAt,
		Seats:      make([]domain.Seat, len(doc.Seats)),
	}
	for i, s := range doc.Seats {
		seatMap.Seats[i] = domain.Seat{
			ID:    s.SeatID,
			Tier:  domain.SeatTier(s.Tier),
			Price: s.Price,
		}
	}
	return seatMap, nil
}
