package server

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"library-circulation/library"
)

type checkoutRequest struct {
	BookID   string `json:"book_id"`
	MemberID string `json:"member_id"`
	LoanDays int    `json:"loan_days"`
}

type restockRequest struct {
	Delta int `json:"delta"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func parseBody(c *fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "request body is required")
	}
	if err := json.Unmarshal(c.Body(), out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
	}
	return nil
}

// =========================
// Books
// =========================

func (s *Server) createBook(c *fiber.Ctx) error {
	var in library.NewBook
	if err := parseBody(c, &in); err != nil {
		return err
	}
	b, err := s.mgr.Catalog.Register(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.JSON(b)
}

func (s *Server) listBooks(c *fiber.Ctx) error {
	books, err := s.mgr.Catalog.List(c.UserContext(), library.BookFilter{
		Query:         c.Query("q"),
		Genre:         c.Query("genre"),
		AvailableOnly: c.QueryBool("available_only", false),
	})
	if err != nil {
		return err
	}
	return c.JSON(books)
}

func (s *Server) getBook(c *fiber.Ctx) error {
	b, err := s.mgr.Catalog.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(b)
}

func (s *Server) updateBook(c *fiber.Ctx) error {
	var in library.NewBook
	if err := parseBody(c, &in); err != nil {
		return err
	}
	b, err := s.mgr.Catalog.Update(c.UserContext(), c.Params("id"), in)
	if errors.Is(err, library.ErrInvariantViolation) {
		return jsonError(c, fiber.StatusConflict, err.Error(), nil)
	}
	if err != nil {
		return err
	}
	return c.JSON(b)
}

func (s *Server) deleteBook(c *fiber.Ctx) error {
	if err := s.mgr.Catalog.Delete(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.JSON(messageResponse{Message: "book deleted"})
}

// restockBook answers 409 when a retire would drop below the copies on loan;
// that is a refused request here, not a broken store.
func (s *Server) restockBook(c *fiber.Ctx) error {
	var in restockRequest
	if err := parseBody(c, &in); err != nil {
		return err
	}
	b, err := s.mgr.Circulation.Restock(c.UserContext(), c.Params("id"), in.Delta)
	if errors.Is(err, library.ErrInvariantViolation) {
		return jsonError(c, fiber.StatusConflict, err.Error(), nil)
	}
	if err != nil {
		return err
	}
	return c.JSON(b)
}

// =========================
// Members
// =========================

func (s *Server) createMember(c *fiber.Ctx) error {
	var in library.NewMember
	if err := parseBody(c, &in); err != nil {
		return err
	}
	m, err := s.mgr.Roster.Register(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.JSON(m)
}

func (s *Server) listMembers(c *fiber.Ctx) error {
	members, err := s.mgr.Roster.List(c.UserContext(), library.MemberFilter{
		Query: c.Query("q"),
		Grade: c.Query("grade"),
	})
	if err != nil {
		return err
	}
	return c.JSON(members)
}

func (s *Server) getMember(c *fiber.Ctx) error {
	m, err := s.mgr.Roster.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(m)
}

func (s *Server) updateMember(c *fiber.Ctx) error {
	var in library.MemberUpdate
	if err := parseBody(c, &in); err != nil {
		return err
	}
	m, err := s.mgr.Roster.Update(c.UserContext(), c.Params("id"), in)
	if err != nil {
		return err
	}
	return c.JSON(m)
}

func (s *Server) deleteMember(c *fiber.Ctx) error {
	if err := s.mgr.Roster.Delete(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.JSON(messageResponse{Message: "member deleted"})
}

// =========================
// Transactions
// =========================

func (s *Server) checkout(c *fiber.Ctx) error {
	var in checkoutRequest
	if err := parseBody(c, &in); err != nil {
		return err
	}
	t, err := s.mgr.Circulation.Checkout(c.UserContext(), in.BookID, in.MemberID, in.LoanDays)
	if err != nil {
		return err
	}
	return c.JSON(t)
}

func (s *Server) returnBook(c *fiber.Ctx) error {
	t, err := s.mgr.Circulation.ReturnBook(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(t)
}

func (s *Server) listTransactions(c *fiber.Ctx) error {
	loans, err := s.mgr.Circulation.ListAll(c.UserContext(), library.TransactionFilter{
		BookID:   strings.TrimSpace(c.Query("book_id")),
		MemberID: strings.TrimSpace(c.Query("member_id")),
		Status:   c.Query("status"),
	})
	if err != nil {
		return err
	}
	return c.JSON(loans)
}

func (s *Server) listActiveTransactions(c *fiber.Ctx) error {
	loans, err := s.mgr.Circulation.ListActive(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(loans)
}

func (s *Server) getTransaction(c *fiber.Ctx) error {
	loan, err := s.mgr.Circulation.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(loan)
}

// =========================
// Dashboard
// =========================

func (s *Server) stats(c *fiber.Ctx) error {
	st, err := s.mgr.Stats.Compute(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(st)
}
