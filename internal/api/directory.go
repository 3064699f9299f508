package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/rcliao/consult-recorder/internal/view"
)

func (s *Server) userByEmail(c *fiber.Ctx) error {
	u, err := s.directory.UserByEmail(c.Query("email"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"id": u.ID})
}

func (s *Server) listPatients(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"patients": view.PatientList(s.directory.Patients(c.Query("userId")))})
}

type addPatientRequest struct {
	Name   string `json:"name"`
	UserID string `json:"userId"`
}

func (s *Server) addPatient(c *fiber.Ctx) error {
	var req addPatientRequest
	if err := c.BodyParser(&req); err != nil || req.Name == "" || req.UserID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "name and userId are required")
	}
	p, err := s.directory.AddPatient(req.Name, req.UserID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"patient": p})
}

func (s *Server) patientDetails(c *fiber.Ctx) error {
	p, err := s.directory.Patient(c.Params("patientId"))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, "Patient not found")
	}
	return c.JSON(view.Patient(p))
}

func (s *Server) templates(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"success": true, "data": s.directory.Templates()})
}
