package handler

import (
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/brainbank/osce/internal/casebank"
	"github.com/brainbank/osce/internal/model"
)

type userView struct {
	ID          int64          `json:"id"`
	Email       string         `json:"email"`
	DisplayName string         `json:"displayName"`
	Role        model.UserRole `json:"role"`
	Active      bool           `json:"active"`
}

func newUserView(u model.User) userView {
	return userView{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName, Role: u.Role, Active: u.Active}
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		slog.Error("failed to list users", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]userView, 0, len(users))
	for _, u := range users {
		out = append(out, newUserView(u))
	}
	writeJSON(w, http.StatusOK, out)
}

func validRole(role model.UserRole) bool {
	switch role {
	case model.UserRoleMember, model.UserRoleEditor, model.UserRoleAdmin:
		return true
	}
	return false
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.FormValue("email"))
	displayName := r.FormValue("display_name")
	password := r.FormValue("password")
	role := model.UserRole(r.FormValue("role"))

	if email == "" || password == "" {
		http.Error(w, "email and password required", http.StatusBadRequest)
		return
	}
	if role == "" {
		role = model.UserRoleMember
	}
	if !validRole(role) {
		http.Error(w, "unknown role", http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if displayName == "" {
		displayName = email
	}

	u := model.User{
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	}
	u.ID, err = h.store.CreateUser(r.Context(), u)
	if err != nil {
		http.Error(w, "failed to create user", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusCreated, newUserView(u))
}

func (h *Handler) userParam(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid user ID", http.StatusBadRequest)
		return nil, false
	}
	user, err := h.store.GetUserByID(r.Context(), id)
	if err != nil {
		slog.Error("failed to get user", "id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil, false
	}
	if user == nil {
		http.Error(w, "user not found", http.StatusNotFound)
		return nil, false
	}
	return user, true
}

func (h *Handler) handleToggleUserActive(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userParam(w, r)
	if !ok {
		return
	}
	if err := h.store.SetUserActive(r.Context(), user.ID, !user.Active); err != nil {
		slog.Error("failed to toggle user active", "id", user.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	user.Active = !user.Active
	writeJSON(w, http.StatusOK, newUserView(*user))
}

func (h *Handler) handleGrantPlan(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userParam(w, r)
	if !ok {
		return
	}
	plan := r.FormValue("plan")
	if !h.deps.Plans.Table().Known(plan) {
		http.Error(w, "unknown plan", http.StatusBadRequest)
		return
	}
	id, err := h.store.CreateOrder(r.Context(), user.ID, plan, model.OrderActive)
	if err != nil {
		slog.Error("failed to create order", "user", user.Email, "plan", plan, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	slog.Info("granted plan", "user", user.Email, "plan", plan)
	writeJSON(w, http.StatusCreated, model.Order{ID: id, UserID: user.ID, PlanName: plan, Status: model.OrderActive})
}

// handleSetOrderStatus moves one of the user's orders to another state,
// ending or canceling a plan.
func (h *Handler) handleSetOrderStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userParam(w, r)
	if !ok {
		return
	}
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid order ID", http.StatusBadRequest)
		return
	}
	status := model.OrderStatus(r.FormValue("status"))
	if !status.Valid() {
		http.Error(w, "unknown order status", http.StatusBadRequest)
		return
	}

	orders, err := h.store.ListOrders(r.Context(), user.ID)
	if err != nil {
		slog.Error("failed to list orders", "user", user.Email, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	i := slices.IndexFunc(orders, func(o model.Order) bool { return o.ID == orderID })
	if i < 0 {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	if err := h.store.UpdateOrderStatus(r.Context(), orderID, status); err != nil {
		slog.Error("failed to update order", "order", orderID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	o := orders[i]
	o.Status = status
	slog.Info("order status changed", "user", user.Email, "plan", o.PlanName, "status", status)
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) handleUploadCases(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "file too large", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("cases_file")
	if err != nil {
		http.Error(w, "no file uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read file", http.StatusInternalServerError)
		return
	}

	res, err := casebank.ImportData(r.Context(), h.store, header.Filename, data)
	if err != nil {
		slog.Error("failed to import cases", "filename", header.Filename, "error", err)
		http.Error(w, "invalid case file", http.StatusBadRequest)
		return
	}
	if !res.Skipped {
		h.deps.Cases.Invalidate(r.Context())
	}
	writeJSON(w, http.StatusOK, map[string]any{"imported": res.Count, "skipped": res.Skipped})
}
