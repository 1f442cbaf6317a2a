package model

import (
	"fmt"
	"io"
	"os"

	"github.com/bytedance/sonic"
)

// Student 学生记录, id 为主键
type Student struct {
	ID    string `json:"id" dynamodbav:"id"`
	Name  string `json:"name" dynamodbav:"name"`
	Class string `json:"class" dynamodbav:"class"`
	Marks int    `json:"marks" dynamodbav:"marks"`
}

func StudentKey(s Student) string {
	return s.ID
}

func (s Student) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("student %q has empty id", s.Name)
	}
	return nil
}

// LoadStudents reads a JSON array of students from path.
func LoadStudents(path string) ([]Student, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeStudents(f)
}

func DecodeStudents(r io.Reader) ([]Student, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var students []Student
	if err := sonic.Unmarshal(data, &students); err != nil {
		return nil, fmt.Errorf("decode students: %w", err)
	}
	for _, s := range students {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return students, nil
}

// DecodeStudentLine parses one NDJSON line.
func DecodeStudentLine(line []byte) (Student, error) {
	var s Student
	if err := sonic.Unmarshal(line, &s); err != nil {
		return s, fmt.Errorf("decode student line: %w", err)
	}
	return s, s.Validate()
}
