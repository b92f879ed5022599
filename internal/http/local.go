package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mrlokans/sitesync/internal/bookings"
	store "github.com/mrlokans/sitesync/internal/database/bookings"
	"github.com/mrlokans/sitesync/internal/entities"
	"github.com/mrlokans/sitesync/internal/syncer"
)

// LocalController exposes the local booking records. Every mutation is
// queued for the eligible remote sites.
type LocalController struct {
	service *bookings.Service
}

func NewLocalController(service *bookings.Service) *LocalController {
	return &LocalController{service: service}
}

// ChangeResponse is returned by every local mutation.
type ChangeResponse struct {
	ID      uint   `json:"id"`
	Queued  int    `json:"queued"`
	Warning string `json:"warning,omitempty"`
}

// --- Bookings ---

// ListBookings handles GET /api/local/bookings?date=YYYY-MM-DD
func (lc *LocalController) ListBookings(c *gin.Context) {
	list, err := lc.service.Store().ListBookings(c.Request.Context(), c.Query("date"))
	if err != nil {
		respondInternalError(c, err, "list bookings")
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": list})
}

// GetBooking handles GET /api/local/bookings/:id
func (lc *LocalController) GetBooking(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	b, err := lc.service.Store().GetBooking(c.Request.Context(), id)
	if err != nil {
		lc.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// CreateBooking handles POST /api/local/bookings
func (lc *LocalController) CreateBooking(c *gin.Context) {
	var b entities.Booking
	if err := c.ShouldBindJSON(&b); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	change, err := lc.service.CreateBooking(c.Request.Context(), &b)
	lc.respondChange(c, http.StatusCreated, change, err)
}

// UpdateBooking handles PUT /api/local/bookings/:id
func (lc *LocalController) UpdateBooking(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var b entities.Booking
	if err := c.ShouldBindJSON(&b); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	b.ID = id
	change, err := lc.service.UpdateBooking(c.Request.Context(), &b)
	lc.respondChange(c, http.StatusOK, change, err)
}

// DeleteBooking handles DELETE /api/local/bookings/:id
func (lc *LocalController) DeleteBooking(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	change, err := lc.service.DeleteBooking(c.Request.Context(), id)
	lc.respondChange(c, http.StatusOK, change, err)
}

// --- Availability ---

// ListAvailability handles GET /api/local/availability?staff_id=&date=
func (lc *LocalController) ListAvailability(c *gin.Context) {
	var staffID uint
	if raw := c.Query("staff_id"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			respondBadRequest(c, "invalid staff_id")
			return
		}
		staffID = uint(n)
	}
	list, err := lc.service.Store().ListAvailability(c.Request.Context(), staffID, c.Query("date"))
	if err != nil {
		respondInternalError(c, err, "list availability")
		return
	}
	c.JSON(http.StatusOK, gin.H{"availability": list})
}

// CreateAvailability handles POST /api/local/availability
func (lc *LocalController) CreateAvailability(c *gin.Context) {
	var a entities.StaffAvailability
	if err := c.ShouldBindJSON(&a); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	change, err := lc.service.CreateAvailability(c.Request.Context(), &a)
	lc.respondChange(c, http.StatusCreated, change, err)
}

// UpdateAvailability handles PUT /api/local/availability/:id
func (lc *LocalController) UpdateAvailability(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var a entities.StaffAvailability
	if err := c.ShouldBindJSON(&a); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	a.ID = id
	change, err := lc.service.UpdateAvailability(c.Request.Context(), &a)
	lc.respondChange(c, http.StatusOK, change, err)
}

// DeleteAvailability handles DELETE /api/local/availability/:id
func (lc *LocalController) DeleteAvailability(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	change, err := lc.service.DeleteAvailability(c.Request.Context(), id)
	lc.respondChange(c, http.StatusOK, change, err)
}

// --- Customers ---

// ListCustomers handles GET /api/local/customers
func (lc *LocalController) ListCustomers(c *gin.Context) {
	list, err := lc.service.Store().ListCustomers(c.Request.Context())
	if err != nil {
		respondInternalError(c, err, "list customers")
		return
	}
	c.JSON(http.StatusOK, gin.H{"customers": list})
}

// GetCustomer handles GET /api/local/customers/:id
func (lc *LocalController) GetCustomer(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	cust, err := lc.service.Store().GetCustomer(c.Request.Context(), id)
	if err != nil {
		lc.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cust)
}

// CreateCustomer handles POST /api/local/customers
func (lc *LocalController) CreateCustomer(c *gin.Context) {
	var cust entities.Customer
	if err := c.ShouldBindJSON(&cust); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	change, err := lc.service.CreateCustomer(c.Request.Context(), &cust)
	lc.respondChange(c, http.StatusCreated, change, err)
}

// UpdateCustomer handles PUT /api/local/customers/:id
func (lc *LocalController) UpdateCustomer(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var cust entities.Customer
	if err := c.ShouldBindJSON(&cust); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	cust.ID = id
	change, err := lc.service.UpdateCustomer(c.Request.Context(), &cust)
	lc.respondChange(c, http.StatusOK, change, err)
}

// DeleteCustomer handles DELETE /api/local/customers/:id
func (lc *LocalController) DeleteCustomer(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	change, err := lc.service.DeleteCustomer(c.Request.Context(), id)
	lc.respondChange(c, http.StatusOK, change, err)
}

// respondChange reports a committed write whose enqueue failed as success
// with a warning; the record exists locally either way.
func (lc *LocalController) respondChange(c *gin.Context, status int, change *bookings.Change, err error) {
	if err != nil && change != nil {
		requestLogger(c).Warn("local change not queued", zap.Uint("id", change.ID), zap.Error(err))
		c.JSON(status, ChangeResponse{ID: change.ID, Queued: change.Queued, Warning: err.Error()})
		return
	}
	if err != nil {
		lc.respondError(c, err)
		return
	}
	c.JSON(status, ChangeResponse{ID: change.ID, Queued: change.Queued})
}

func (lc *LocalController) respondError(c *gin.Context, err error) {
	var ve *syncer.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: ve.Message, Code: "validation_failed", Details: ve.Fields})
	case errors.Is(err, bookings.ErrNotFound),
		errors.Is(err, store.ErrBookingNotFound),
		errors.Is(err, store.ErrCustomerNotFound),
		errors.Is(err, store.ErrAvailabilityNotFound):
		respondNotFound(c, "record")
	case errors.Is(err, bookings.ErrSlotTaken),
		errors.Is(err, bookings.ErrEmailTaken),
		errors.Is(err, bookings.ErrStaffBlocked):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "conflict"})
	default:
		respondInternalError(c, err, "local record")
	}
}

// RegisterRoutes mounts the local records API under /api/local.
func (lc *LocalController) RegisterRoutes(router gin.IRouter, token string) {
	local := router.Group("/api/local", AdminAuth(token))

	local.GET("/bookings", lc.ListBookings)
	local.POST("/bookings", lc.CreateBooking)
	local.GET("/bookings/:id", lc.GetBooking)
	local.PUT("/bookings/:id", lc.UpdateBooking)
	local.DELETE("/bookings/:id", lc.DeleteBooking)

	local.GET("/availability", lc.ListAvailability)
	local.POST("/availability", lc.CreateAvailability)
	local.PUT("/availability/:id", lc.UpdateAvailability)
	local.DELETE("/availability/:id", lc.DeleteAvailability)

	local.GET("/customers", lc.ListCustomers)
	local.POST("/customers", lc.CreateCustomer)
	local.GET("/customers/:id", lc.GetCustomer)
	local.PUT("/customers/:id", lc.UpdateCustomer)
	local.DELETE("/customers/:id", lc.DeleteCustomer)
}
