package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/fieldcheck/servicereport-backend/internal/users"
	"github.com/fieldcheck/servicereport-backend/pkg/enums"
	pkgerrors "github.com/fieldcheck/servicereport-backend/pkg/errors"
)

type testUsersService struct {
	users.Service
	createFn    func(ctx context.Context, actorID uuid.UUID, input users.CreateUserDTO) (*users.UserDTO, error)
	assignFn    func(ctx context.Context, actorID, userID uuid.UUID, ownerID *uuid.UUID) (*users.UserDTO, error)
	setActiveFn func(ctx context.Context, actorID, userID uuid.UUID, active bool) (*users.UserDTO, error)
	getFn       func(ctx context.Context, actorID, userID uuid.UUID) (*users.UserDTO, error)
}

func (s *testUsersService) Create(ctx context.Context, actorID uuid.UUID, input users.CreateUserDTO) (*users.UserDTO, error) {
	return s.createFn(ctx, actorID, input)
}

func (s *testUsersService) AssignOwner(ctx context.Context, actorID, userID uuid.UUID, ownerID *uuid.UUID) (*users.UserDTO, error) {
	return s.assignFn(ctx, actorID, userID, ownerID)
}

func (s *testUsersService) SetActive(ctx context.Context, actorID, userID uuid.UUID, active bool) (*users.UserDTO, error) {
	return s.setActiveFn(ctx, actorID, userID, active)
}

func (s *testUsersService) Get(ctx context.Context, actorID, userID uuid.UUID) (*users.UserDTO, error) {
	return s.getFn(ctx, actorID, userID)
}

func TestUserCreateParsesRole(t *testing.T) {
	admin := uuid.New()
	owner := uuid.New()
	var got users.CreateUserDTO
	svc := &testUsersService{
		createFn: func(_ context.Context, a uuid.UUID, input users.CreateUserDTO) (*users.UserDTO, error) {
			if a != admin {
				t.Fatalf("unexpected actor %s", a)
			}
			got = input
			return &users.UserDTO{ID: uuid.New(), Email: input.Email, Role: input.Role, TeamLeaderID: input.OwnerID, IsActive: true}, nil
		},
	}

	body := `{"email":"tech@example.com","full_name":"Tia Tech","role":"technician","owner_id":"` + owner.String() + `"}`
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/users", strings.NewReader(body)), admin)
	resp := httptest.NewRecorder()
	UserCreate(svc, testLogger())(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	if got.Role != enums.RoleTechnician || got.OwnerID == nil || *got.OwnerID != owner {
		t.Fatalf("unexpected input %+v", got)
	}
}

func TestUserCreateValidatesPayload(t *testing.T) {
	cases := map[string]string{
		"unknown role":  `{"email":"a@example.com","full_name":"A","role":"supervisor"}`,
		"missing email": `{"full_name":"A","role":"technician"}`,
		"bad email":     `{"email":"nope","full_name":"A","role":"technician"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/users", strings.NewReader(body)), uuid.New())
			resp := httptest.NewRecorder()
			UserCreate(&testUsersService{}, testLogger())(resp, req)
			if resp.Code != http.StatusBadRequest {
				t.Fatalf("expected 400 got %d", resp.Code)
			}
		})
	}
}

func TestUserAssignOwnerAcceptsNull(t *testing.T) {
	userID := uuid.New()
	called := false
	svc := &testUsersService{
		assignFn: func(_ context.Context, _, id uuid.UUID, ownerID *uuid.UUID) (*users.UserDTO, error) {
			called = true
			if id != userID || ownerID != nil {
				t.Fatalf("unexpected args %s %v", id, ownerID)
			}
			return &users.UserDTO{ID: id}, nil
		},
	}
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"owner_id":null}`))
	req = addRouteParam(asUser(req, uuid.New()), "userId", userID.String())
	resp := httptest.NewRecorder()
	UserAssignOwner(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK || !called {
		t.Fatalf("unexpected status %d called=%v", resp.Code, called)
	}
}

func TestUserSetActiveRequiresFlag(t *testing.T) {
	svc := &testUsersService{
		setActiveFn: func(_ context.Context, _, id uuid.UUID, active bool) (*users.UserDTO, error) {
			return &users.UserDTO{ID: id, IsActive: active}, nil
		},
	}
	userID := uuid.NewString()

	req := addRouteParam(asUser(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{}`)), uuid.New()), "userId", userID)
	resp := httptest.NewRecorder()
	UserSetActive(svc, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}

	req = addRouteParam(asUser(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"is_active":false}`)), uuid.New()), "userId", userID)
	resp = httptest.NewRecorder()
	UserSetActive(svc, testLogger())(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	var envelope struct {
		Data users.UserDTO `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if envelope.Data.IsActive {
		t.Fatalf("expected inactive user")
	}
}

func TestUserGetOutsideSubtreeIsNotFound(t *testing.T) {
	svc := &testUsersService{
		getFn: func(context.Context, uuid.UUID, uuid.UUID) (*users.UserDTO, error) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		},
	}
	req := addRouteParam(asUser(httptest.NewRequest(http.MethodGet, "/", nil), uuid.New()), "userId", uuid.NewString())
	resp := httptest.NewRecorder()
	UserGet(svc, testLogger())(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}
