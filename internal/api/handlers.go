package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/amvg/harvester/internal/model"
	"github.com/amvg/harvester/internal/scheduler"
)

// TaskHandler exposes the scheduler's host contract over HTTP
type TaskHandler struct {
	scheduler *scheduler.Scheduler
	logger    *zap.Logger
}

// NewTaskHandler creates the task handler.
func NewTaskHandler(s *scheduler.Scheduler, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		scheduler: s,
		logger:    logger.Named("api"),
	}
}

// createTaskRequest is the payload for task creation
type createTaskRequest struct {
	Name        string              `json:"name" binding:"required"`
	Description string              `json:"description"`
	Locator     string              `json:"locator" binding:"required"`
	Frequency   model.TaskFrequency `json:"frequency" binding:"required"`
	NextRun     *time.Time          `json:"next_run"`
	MaxItems    int                 `json:"max_items"`
	AutoPublish bool                `json:"auto_publish"`
	Config      model.TaskConfig    `json:"config"`
}

func (h *TaskHandler) Create(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if !req.Frequency.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid frequency"})
		return
	}

	task := &model.Task{
		Name:        req.Name,
		Description: req.Description,
		Locator:     req.Locator,
		Frequency:   req.Frequency,
		Status:      model.TaskStatusPending,
		NextRun:     req.NextRun,
		MaxItems:    req.MaxItems,
		AutoPublish: req.AutoPublish,
		Config:      req.Config,
	}
	if task.MaxItems <= 0 {
		task.MaxItems = 50
	}
	if task.NextRun == nil {
		now := time.Now()
		task.NextRun = &now
	}

	if err := h.scheduler.AddTask(task); err != nil {
		h.logger.Error("Failed to create task",
			zap.String("name", req.Name),
			zap.Error(err))
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	h.logger.Info("Task created via API",
		zap.String("id", task.ID),
		zap.String("name", task.Name))
	c.JSON(http.StatusCreated, task)
}

func (h *TaskHandler) List(c *gin.Context) {
	tasks := h.scheduler.AllTasks()
	c.JSON(http.StatusOK, gin.H{
		"tasks": tasks,
		"count": len(tasks),
	})
}

func (h *TaskHandler) GetByID(c *gin.Context) {
	task, err := h.scheduler.GetTask(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) Update(c *gin.Context) {
	id := c.Param("id")

	var update scheduler.TaskUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if !h.scheduler.UpdateTask(id, update) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}

	task, err := h.scheduler.GetTask(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if !h.scheduler.RemoveTask(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (h *TaskHandler) Pause(c *gin.Context) {
	id := c.Param("id")
	if !h.scheduler.PauseTask(id) {
		c.JSON(http.StatusConflict, gin.H{"error": "Task cannot be paused in its current status"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": id})
}

func (h *TaskHandler) Resume(c *gin.Context) {
	id := c.Param("id")
	if !h.scheduler.ResumeTask(id) {
		c.JSON(http.StatusConflict, gin.H{"error": "Task cannot be resumed in its current status"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resumed": id})
}

func (h *TaskHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.Status())
}
