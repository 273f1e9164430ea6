package connection

import "github.com/nextlevelbuilder/walink/internal/backend"

func backendStatus(authenticated bool, phone string) backend.AuthStatus {
	return backend.AuthStatus{Authenticated: authenticated, PhoneNumber: phone}
}

func backendError(msg string) backend.AuthStatus {
	return backend.AuthStatus{Error: msg}
}
