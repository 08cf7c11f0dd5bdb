package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"dinehub.org/internal/auth"
)

type createRoleRequest struct {
	Name        string   `json:"name"`
	Slug        string   `json:"slug,omitempty"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
	Level       int      `json:"level,omitempty"`
	Color       string   `json:"color,omitempty"`
	Icon        string   `json:"icon,omitempty"`
}

type updateRoleRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Level       *int    `json:"level,omitempty"`
	Color       *string `json:"color,omitempty"`
	Icon        *string `json:"icon,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

type setPermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type assignRoleRequest struct {
	RoleID    string     `json:"role_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Notes     string     `json:"notes,omitempty"`
}

type replaceRolesRequest struct {
	RoleIDs []string `json:"role_ids"`
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	tenantID := caller(r).TenantID
	q := r.URL.Query()
	if q.Has("min_level") || q.Has("max_level") {
		lo, err1 := intParam(q.Get("min_level"), 1)
		hi, err2 := intParam(q.Get("max_level"), 100)
		if err := errors.Join(err1, err2); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		roles, err := a.roles.ListByLevelRange(r.Context(), tenantID, lo, hi)
		if err != nil {
			a.writeAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
		return
	}
	roles, err := a.roles.ListActive(r.Context(), tenantID)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.roles.Create(r.Context(), caller(r).TenantID, auth.RoleInput{
		Name:        req.Name,
		Slug:        req.Slug,
		Description: req.Description,
		Permissions: req.Permissions,
		Level:       req.Level,
		Color:       req.Color,
		Icon:        req.Icon,
	})
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleSeedRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.roles.SeedSystemRoles(r.Context(), caller(r).TenantID)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"created": roles})
}

func (a *API) handleGetRole(w http.ResponseWriter, r *http.Request) {
	role, err := a.roles.Get(r.Context(), caller(r).TenantID, chi.URLParam(r, "id"))
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.roles.Update(r.Context(), caller(r).TenantID, chi.URLParam(r, "id"), auth.RoleUpdate(req))
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	if err := a.roles.Delete(r.Context(), caller(r).TenantID, chi.URLParam(r, "id")); err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSetPermissions(w http.ResponseWriter, r *http.Request) {
	var req setPermissionsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.roles.SetPermissions(r.Context(), caller(r).TenantID, chi.URLParam(r, "id"), req.Permissions)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.resolver.EffectiveRoles(r.Context(), caller(r).TenantID, chi.URLParam(r, "id"))
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *API) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	claims := caller(r)
	userID := chi.URLParam(r, "id")
	if err := a.checkTenantUser(r, claims.TenantID, userID); err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	id, err := a.assignments.Assign(r.Context(), claims.TenantID, userID, strings.TrimSpace(req.RoleID), auth.AssignOptions{
		AssignedBy: claims.Subject,
		ExpiresAt:  req.ExpiresAt,
		Notes:      req.Notes,
	})
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (a *API) handleReplaceRoles(w http.ResponseWriter, r *http.Request) {
	var req replaceRolesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	claims := caller(r)
	userID := chi.URLParam(r, "id")
	if err := a.checkTenantUser(r, claims.TenantID, userID); err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	ids, err := a.assignments.ReplaceAll(r.Context(), claims.TenantID, userID, req.RoleIDs, claims.Subject)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ids": nonNil(ids)})
}

func (a *API) handleUnassign(w http.ResponseWriter, r *http.Request) {
	claims := caller(r)
	err := a.assignments.Revoke(r.Context(), claims.TenantID, chi.URLParam(r, "id"), chi.URLParam(r, "roleId"), claims.Subject)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAssignmentHistory(w http.ResponseWriter, r *http.Request) {
	rows, err := a.assignments.History(r.Context(), caller(r).TenantID, chi.URLParam(r, "id"))
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignments": rows})
}

func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request) {
	set, err := a.resolver.ResolvePermissions(r.Context(), caller(r).TenantID, chi.URLParam(r, "id"))
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": nonNil(set.Sorted())})
}

func (a *API) handleExpiring(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r.URL.Query().Get("days"), 7)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := a.assignments.ListExpiringSoon(r.Context(), caller(r).TenantID, days)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignments": rows})
}

func (a *API) handleExpired(w http.ResponseWriter, r *http.Request) {
	rows, err := a.assignments.ListExpired(r.Context(), caller(r).TenantID)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignments": rows})
}

// checkTenantUser keeps admins from binding roles to users of another tenant.
func (a *API) checkTenantUser(r *http.Request, tenantID, userID string) error {
	u, err := a.users.GetUser(r.Context(), userID)
	if err != nil {
		return err
	}
	if u.TenantID != tenantID {
		return fmt.Errorf("%w: user %s", auth.ErrNotFound, userID)
	}
	return nil
}

func intParam(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", raw)
	}
	return n, nil
}
