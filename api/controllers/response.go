package controllers

import (
	"net/http"

	"github.com/go-chi/render"
)

// APIResponse 统一API响应结构
type APIResponse struct {
	Status int         `json:"status" example:"0"`
	Msg    string      `json:"msg" example:"操作成功"`
	Data   interface{} `json:"data,omitempty"`
}

// OK 成功响应
func OK(w http.ResponseWriter, r *http.Request, msg string, data interface{}) {
	render.JSON(w, r, APIResponse{Status: 0, Msg: msg, Data: data})
}

// Fail 失败响应
func Fail(w http.ResponseWriter, r *http.Request, httpStatus int, msg string) {
	render.Status(r, httpStatus)
	render.JSON(w, r, APIResponse{Status: -1, Msg: msg})
}
