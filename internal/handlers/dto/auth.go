package dto

type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=64"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type UpdateProfileRequest struct {
	Username  *string `json:"username" binding:"omitempty,min=3,max=50"`
	AvatarURL *string `json:"avatar_url"`
	Bio       *string `json:"bio" binding:"omitempty,max=500"`
}

type StatusRequest struct {
	IsOnline *bool `json:"is_online" binding:"required"`
}
